// Package reflection provides internal reflection and call-stack helpers
// used to name DAO methods and to locate the application code behind a
// failing DAO call.
package reflection

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
)

// maxCallSiteDepth bounds the number of frames captured per call site.
const maxCallSiteDepth = 32

var callersFn = runtime.Callers

// GetTypeName returns the fully qualified type name
func GetTypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}

	// Handle pointer types
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.Name()
	}

	return t.PkgPath() + "." + t.Name()
}

// MethodName qualifies a member of t, e.g. "example.com/app/users.Dao.FindByID".
func MethodName(t reflect.Type, member string) string {
	return GetTypeName(t) + "." + member
}

// CallSite captures the stack of the calling goroutine. The skip parameter
// is relative to the caller of CallSite. Frames of the runtime and of the
// packages listed in exclude are dropped, so the result starts at the first
// frame belonging to application code.
func CallSite(skip int, exclude ...string) []runtime.Frame {
	pcs := make([]uintptr, maxCallSiteDepth)
	n := callersFn(skip+2, pcs)
	if n == 0 {
		return nil
	}

	var site []runtime.Frame
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		pkg := extractPackageFromName(frame.Function)
		if pkg != "runtime" && !slices.Contains(exclude, pkg) {
			site = append(site, frame)
		}
		if !more {
			break
		}
	}
	return site
}

// FormatFrames renders frames one per function, in the layout of a
// goroutine trace.
func FormatFrames(frames []runtime.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
	}
	return b.String()
}

// PackageOf returns the import path of the package declaring the named
// function, e.g. "example.com/app/users" for "example.com/app/users.(*Repo).Find.func1".
func PackageOf(function string) string {
	return extractPackageFromName(function)
}

func extractPackageFromName(name string) string {
	lastSlash := strings.LastIndex(name, "/")
	if lastSlash >= 0 {
		remaining := name[lastSlash+1:]
		if dot := strings.Index(remaining, "."); dot >= 0 {
			return name[:lastSlash+1+dot]
		}
	}

	if dot := strings.Index(name, "."); dot >= 0 {
		return name[:dot]
	}

	return ""
}
