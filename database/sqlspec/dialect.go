package sqlspec

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect describes how compiled SQL is rendered for one database vendor.
type Dialect struct {
	Name string
	// Placeholder rewrites "?" markers into the vendor's bind syntax.
	Placeholder sq.PlaceholderFormat
	// Returning reports support for INSERT/UPDATE ... RETURNING.
	Returning bool
	// OffsetFetch selects the ANSI "OFFSET n ROWS FETCH NEXT m ROWS ONLY"
	// paging clause instead of "LIMIT m OFFSET n".
	OffsetFetch bool
}

var (
	// PostgreSQL renders $1 placeholders, LIMIT/OFFSET paging and RETURNING keys.
	PostgreSQL = Dialect{Name: "postgresql", Placeholder: sq.Dollar, Returning: true}
	// Oracle renders :1 placeholders and OFFSET/FETCH paging.
	Oracle = Dialect{Name: "oracle", Placeholder: sq.Colon, OffsetFetch: true}
	// Generic renders ? placeholders and LIMIT/OFFSET paging.
	Generic = Dialect{Name: "generic", Placeholder: sq.Question}
)

// DialectFor returns the dialect of a database vendor name, falling back to Generic.
func DialectFor(vendor string) Dialect {
	switch strings.ToLower(vendor) {
	case "postgresql", "postgres", "pgx":
		return PostgreSQL
	case "oracle":
		return Oracle
	default:
		return Generic
	}
}

// escapesMarkers reports whether literal "?" characters must be doubled so
// that the placeholder rewrite leaves them alone.
func (d Dialect) escapesMarkers() bool {
	return d.Placeholder != nil && d.Placeholder != sq.Question
}

func (d Dialect) pagingClause() string {
	if d.OffsetFetch {
		return " OFFSET ? ROWS FETCH NEXT ? ROWS ONLY"
	}
	return " LIMIT ? OFFSET ?"
}
