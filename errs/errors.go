// Package errs defines the client's stable, typed error taxonomy.
//
// Every error the client returns across a connection, pool, folder or
// mailbox boundary is an *Error carrying a Code, a human message, the
// wrapped cause, and (when available) the offending command or response
// line; the one exception is Mailbox.ProcessBatches, which reports
// per-id failures as a *PartialOperationError. Codes are stable strings so callers across process/language
// boundaries (logs, metrics, serialized RPC responses) can match on them
// without depending on Go error identity.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a stable, serializable error discriminator.
type Code string

const (
	CodeConfiguration      Code = "CONFIGURATION_ERROR"
	CodeTransport          Code = "TRANSPORT_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeProtocol           Code = "PROTOCOL_ERROR"
	CodeAuthentication     Code = "AUTHENTICATION_ERROR"
	CodeMailboxSelection   Code = "MAILBOX_SELECTION_ERROR"
	CodeFolderNotFound     Code = "FOLDER_NOT_FOUND"
	CodeFolderExists       Code = "FOLDER_EXISTS"
	CodeDefaultFolder      Code = "DEFAULT_FOLDER_ERROR"
	CodeSearch             Code = "SEARCH_ERROR"
	CodeFetch              Code = "FETCH_ERROR"
	CodeStore              Code = "STORE_ERROR"
	CodeMove               Code = "MOVE_ERROR"
	CodeCopy               Code = "COPY_ERROR"
	CodeAppend             Code = "APPEND_ERROR"
	CodeExpunge            Code = "EXPUNGE_ERROR"
	CodeStatus             Code = "STATUS_ERROR"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodePartialOperation   Code = "PARTIAL_OPERATION"
	CodeUidValidityChanged Code = "UID_VALIDITY_CHANGED"
)

// retriable is the set of codes the connection engine's retry policy
// will reconnect-and-retry automatically.
var retriable = map[Code]bool{
	CodeTransport: true,
	CodeTimeout:   true,
}

// Error is the concrete type every exported client error implements.
type Error struct {
	Code Code
	// Message is a human-readable description, independent of Cause.
	Message string
	// Line is the offending command or response line, when known.
	Line string
	// Cause is the wrapped underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s: %s (line: %q)", e.Code, e.Message, e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithLine attaches the offending command/response line and returns e.
func (e *Error) WithLine(line string) *Error {
	e.Line = line
	return e
}

func newErr(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func Configuration(cause error, format string, args ...any) *Error {
	return newErr(CodeConfiguration, cause, format, args...)
}

func Transport(cause error, format string, args ...any) *Error {
	return newErr(CodeTransport, cause, format, args...)
}

func Timeout(cause error, format string, args ...any) *Error {
	return newErr(CodeTimeout, cause, format, args...)
}

func Protocol(cause error, format string, args ...any) *Error {
	return newErr(CodeProtocol, cause, format, args...)
}

func Authentication(cause error, format string, args ...any) *Error {
	return newErr(CodeAuthentication, cause, format, args...)
}

func MailboxSelection(cause error, format string, args ...any) *Error {
	return newErr(CodeMailboxSelection, cause, format, args...)
}

func FolderNotFound(cause error, format string, args ...any) *Error {
	return newErr(CodeFolderNotFound, cause, format, args...)
}

func FolderExists(cause error, format string, args ...any) *Error {
	return newErr(CodeFolderExists, cause, format, args...)
}

func DefaultFolder(format string, args ...any) *Error {
	return newErr(CodeDefaultFolder, nil, format, args...)
}

func Search(cause error, format string, args ...any) *Error {
	return newErr(CodeSearch, cause, format, args...)
}

func Fetch(cause error, format string, args ...any) *Error {
	return newErr(CodeFetch, cause, format, args...)
}

func Store(cause error, format string, args ...any) *Error {
	return newErr(CodeStore, cause, format, args...)
}

func Move(cause error, format string, args ...any) *Error {
	return newErr(CodeMove, cause, format, args...)
}

func Copy(cause error, format string, args ...any) *Error {
	return newErr(CodeCopy, cause, format, args...)
}

func Append(cause error, format string, args ...any) *Error {
	return newErr(CodeAppend, cause, format, args...)
}

func Expunge(cause error, format string, args ...any) *Error {
	return newErr(CodeExpunge, cause, format, args...)
}

func Status(cause error, format string, args ...any) *Error {
	return newErr(CodeStatus, cause, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newErr(CodeInvalidArgument, nil, format, args...)
}

func UidValidityChanged(old, current uint32) *Error {
	return newErr(CodeUidValidityChanged, nil, "UIDVALIDITY changed from %d to %d", old, current)
}

// PartialFailure describes one failed id within a PartialOperation.
type PartialFailure struct {
	UID uint32
	Err error
}

// PartialOperationError aggregates per-id failures from a batched
// operation. Only Mailbox.ProcessBatches returns it; Copy and Move
// report a failure as a single *Error and do not list which UIDs
// succeeded.
type PartialOperationError struct {
	Succeeded []uint32
	Failures  []PartialFailure
}

func (e *PartialOperationError) Error() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", CodePartialOperation, len(e.Succeeded), len(e.Failures))
}

func (e *PartialOperationError) Code() Code { return CodePartialOperation }

// Retriable reports whether err should trigger the connection engine's
// reconnect-and-retry policy. AuthenticationError,
// InvalidArgument, and tagged NO/BAD responses are never retriable.
func Retriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return retriable[e.Code]
	}
	return false
}

// CodeOf extracts the Code from err, or "" if err is not one of ours.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
