// Package zfserr maps zfs/zpool stderr output to typed errors.
//
// Neither tool has structured error output, so classification is ordered
// substring matching over the captured stderr. The order of the rule table
// is part of the contract: specific phrases sit above the generic ones they
// would otherwise be masked by.
package zfserr

import (
	"net/http"
	"strings"
)

type Kind int

const (
	Generic Kind = iota
	NotFound
	AlreadyExists
	Busy
	Permission
	InvalidArgument
	HasHolds
	HasDependents
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case Busy:
		return "busy"
	case Permission:
		return "permission"
	case InvalidArgument:
		return "invalid_argument"
	case HasHolds:
		return "has_holds"
	case HasDependents:
		return "has_dependents"
	default:
		return "generic"
	}
}

// StatusCode is the stable HTTP status for the kind.
func (k Kind) StatusCode() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, Busy, HasHolds, HasDependents:
		return http.StatusConflict
	case Permission:
		return http.StatusForbidden
	case InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error carries the classification plus the raw stderr for diagnostics.
// Message is only the first trimmed line; the dashboard shows it verbatim.
type Error struct {
	Kind     Kind
	Message  string
	Stderr   string
	ExitCode int
}

func (e *Error) Error() string { return e.Message }

const unknownMessage = "unknown ZFS error"

type rule struct {
	pattern string
	kind    Kind
}

// First match wins. "has holds" and "tag already exists" sit above the
// generic existence patterns: "cannot hold snapshot 'x@y': tag already
// exists" must never classify as a plain AlreadyExists-by-accident or a
// held snapshot as NotFound via some embedded phrase.
var rules = []rule{
	{"dataset does not exist", NotFound},
	{"no such pool", NotFound},
	{"could not find", NotFound},
	{"has holds", HasHolds},
	{"tag already exists", AlreadyExists},
	{"does not exist", NotFound},
	{"already exists", AlreadyExists},
	{"has dependent clones", HasDependents},
	{"has children", HasDependents},
	{"dataset is busy", Busy},
	{"is busy", Busy},
	{"permission denied", Permission},
	{"operation not permitted", Permission},
	{"invalid property", InvalidArgument},
	{"bad property value", InvalidArgument},
	{"invalid vdev specification", InvalidArgument},
	{"invalid option", InvalidArgument},
}

// Classify turns a failed command's stderr and exit code into an *Error.
func Classify(stderr string, exitCode int) *Error {
	lower := strings.ToLower(stderr)
	kind := Generic
	for _, r := range rules {
		if strings.Contains(lower, r.pattern) {
			kind = r.kind
			break
		}
	}

	message := unknownMessage
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		message, _, _ = strings.Cut(trimmed, "\n")
		message = strings.TrimSpace(message)
	}

	return &Error{
		Kind:     kind,
		Message:  message,
		Stderr:   stderr,
		ExitCode: exitCode,
	}
}
