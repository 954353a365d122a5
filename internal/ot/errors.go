// Package ot implements the document-level operation algebra: structural
// validation, application, and transformation of operations under
// versioning.
package ot

import "fmt"

// Code is a stable, machine-readable error identifier that crosses the wire
// in the {error} envelope (see the transport contract).
type Code string

const (
	CodeBadlyFormed                 Code = "BadlyFormed"
	CodeTypeNotRecognized           Code = "TypeNotRecognized"
	CodeAlreadyCreated              Code = "AlreadyCreated"
	CodeDoesNotExist                Code = "DoesNotExist"
	CodeWasDeleted                  Code = "WasDeleted"
	CodeOpNotProvided               Code = "OpNotProvided"
	CodeVersionMismatchOnApply      Code = "VersionMismatchOnApply"
	CodeVersionMismatchOnTransform  Code = "VersionMismatchOnTransform"
	CodeOpAlreadySubmitted          Code = "OpAlreadySubmitted"
	CodeTransformOpsNotFound        Code = "TransformOpsNotFound"
	CodeMaxSubmitRetriesExceeded    Code = "MaxSubmitRetriesExceeded"
	CodeConnectionClosed            Code = "ConnectionClosed"
	// CodeDocumentWasDeleted is distinct from CodeWasDeleted: it is raised by
	// the client's pairwise rebase (transformX) rather than the kernel's
	// transform table, per the client pipeline's own error surface.
	CodeDocumentWasDeleted Code = "DocumentWasDeleted"
)

// Error is the kernel's error type: a stable code plus a human message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, or "" if
// not.
func CodeOf(err error) Code {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
