package sqlspec

import (
	"fmt"
	"strconv"
	"strings"
)

// paramRef is one placeholder occurrence in a template.
type paramRef struct {
	// Name is the parameter name, or empty for positional references.
	Name string
	// Position is the 1-based argument index of a positional reference.
	Position int
	// Path is the dotted field path following the name, if any.
	Path string
}

func (r paramRef) String() string {
	head := r.Name
	if head == "" {
		head = strconv.Itoa(r.Position)
	}
	if r.Path != "" {
		return ":" + head + "." + r.Path
	}
	return ":" + head
}

// template is a parsed SQL text: len(literals) == len(refs)+1 and the SQL is
// literals[0] ref[0] literals[1] ... ref[n-1] literals[n].
type template struct {
	literals []string
	refs     []paramRef
}

// parseTemplate splits query around its :name, :name.field and :n placeholders.
// Quoted literals, quoted identifiers, comments and "::" casts are copied verbatim.
func parseTemplate(query string) (*template, error) {
	t := &template{}
	var lit strings.Builder

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote starting at offset %d", i)
			}
			lit.WriteString(query[i : i+end+2])
			i += end + 2

		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			lit.WriteString(query[i : i+end])
			i += end

		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment starting at offset %d", i)
			}
			lit.WriteString(query[i : i+end+4])
			i += end + 4

		case c == ':' && strings.HasPrefix(query[i:], "::"):
			lit.WriteString("::")
			i += 2

		case c == ':' && i+1 < len(query) && isNameStart(query[i+1]):
			ref, n := scanNamed(query[i+1:])
			t.literals = append(t.literals, lit.String())
			t.refs = append(t.refs, ref)
			lit.Reset()
			i += 1 + n

		case c == ':' && i+1 < len(query) && isDigit(query[i+1]):
			n := 0
			for i+1+n < len(query) && isDigit(query[i+1+n]) {
				n++
			}
			pos, _ := strconv.Atoi(query[i+1 : i+1+n])
			if pos == 0 {
				return nil, fmt.Errorf("positional parameters start at :1")
			}
			t.literals = append(t.literals, lit.String())
			t.refs = append(t.refs, paramRef{Position: pos})
			lit.Reset()
			i += 1 + n

		default:
			lit.WriteByte(c)
			i++
		}
	}
	t.literals = append(t.literals, lit.String())
	return t, nil
}

// scanNamed reads name(.field)* from s and returns the reference and bytes consumed.
func scanNamed(s string) (paramRef, int) {
	n := scanIdent(s)
	ref := paramRef{Name: s[:n]}

	var path []string
	for n < len(s) && s[n] == '.' && n+1 < len(s) && isNameStart(s[n+1]) {
		m := scanIdent(s[n+1:])
		path = append(path, s[n+1:n+1+m])
		n += 1 + m
	}
	ref.Path = strings.Join(path, ".")
	return ref, n
}

func scanIdent(s string) int {
	n := 0
	for n < len(s) && (isNameStart(s[n]) || isDigit(s[n])) {
		n++
	}
	return n
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
