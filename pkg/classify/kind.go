package classify

import "fmt"

// DependencyKind is the classified reason an object creation attempt failed
type DependencyKind string

const (
	MissingTable     DependencyKind = "MISSING_TABLE"
	MissingView      DependencyKind = "MISSING_VIEW"
	MissingFunction  DependencyKind = "MISSING_FUNCTION"
	MissingProcedure DependencyKind = "MISSING_PROCEDURE"
	MissingType      DependencyKind = "MISSING_TYPE"
	MissingSequence  DependencyKind = "MISSING_SEQUENCE"
	SyntaxError      DependencyKind = "SYNTAX_ERROR"
	PermissionError  DependencyKind = "PERMISSION_ERROR"
	OtherError       DependencyKind = "OTHER_ERROR"
)

var allKinds = []DependencyKind{
	MissingTable,
	MissingView,
	MissingFunction,
	MissingProcedure,
	MissingType,
	MissingSequence,
	SyntaxError,
	PermissionError,
	OtherError,
}

// IsMissing reports whether the kind names a missing object. Only these kinds can be resolved by waiting for another
// object to be created.
func (k DependencyKind) IsMissing() bool {
	switch k {
	case MissingTable, MissingView, MissingFunction, MissingProcedure, MissingType, MissingSequence:
		return true
	default:
		return false
	}
}

// ParseDependencyKind parses the upper-case name of a kind, e.g., MISSING_TABLE
func ParseDependencyKind(s string) (DependencyKind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown dependency kind %q", s)
}
