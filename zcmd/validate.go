package zcmd

import (
	"fmt"
	"regexp"
	"strings"
)

// All user-supplied ZFS names are validated against these grammars before
// they are ever placed in an argument vector. Commands additionally pass
// "--" before positional arguments, so validation is belt and braces.
var (
	// Pool names: start with a letter, then alphanumeric, underscore, dash, dot.
	poolNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

	// Dataset paths: pool/dataset/child.
	datasetPathRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-/]*$`)

	// Snapshot suffix (after @). Bookmarks (after #) share the grammar.
	snapPartRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:\-%]*$`)

	// Property names: lowercase; dots, colons and dashes cover user
	// properties like com.sun:auto-snapshot.
	propertyNameRE = regexp.MustCompile(`^[a-z][a-z0-9_.:\-]*$`)
)

// ValidationError marks a name that failed grammar validation; the API layer
// maps it to a 400 rather than a ZFS failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func ValidatePoolName(name string) error {
	if name == "" || !poolNameRE.MatchString(name) {
		return validationErrorf("invalid pool name %q: must start with a letter and contain only [a-zA-Z0-9_.-]", name)
	}
	return nil
}

func ValidateDatasetPath(path string) error {
	if path == "" || !datasetPathRE.MatchString(path) {
		return validationErrorf("invalid dataset path %q: must start with a letter and contain only [a-zA-Z0-9_.-/]", path)
	}
	if strings.Contains(path, "//") || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return validationErrorf("invalid dataset path %q: malformed path separators", path)
	}
	return nil
}

func ValidateSnapshot(name string) error {
	dataset, snap, ok := strings.Cut(name, "@")
	if !ok {
		return validationErrorf("invalid snapshot name %q: must contain '@'", name)
	}
	if err := ValidateDatasetPath(dataset); err != nil {
		return err
	}
	if snap == "" || !snapPartRE.MatchString(snap) {
		return validationErrorf("invalid snapshot suffix %q: must start with alphanumeric and contain only [a-zA-Z0-9_.:-]", snap)
	}
	return nil
}

func ValidateBookmark(name string) error {
	dataset, mark, ok := strings.Cut(name, "#")
	if !ok {
		return validationErrorf("invalid bookmark name %q: must contain '#'", name)
	}
	if err := ValidateDatasetPath(dataset); err != nil {
		return err
	}
	if mark == "" || !snapPartRE.MatchString(mark) {
		return validationErrorf("invalid bookmark suffix %q: must start with alphanumeric and contain only [a-zA-Z0-9_.:-]", mark)
	}
	return nil
}

func ValidatePropertyName(name string) error {
	if name == "" || !propertyNameRE.MatchString(name) {
		return validationErrorf("invalid property name %q: must be lowercase and contain only [a-z0-9_.:-]", name)
	}
	return nil
}
