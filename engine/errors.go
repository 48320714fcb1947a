package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed. It mirrors the error taxonomy a
// caller needs to decide whether to retry, surface to the user, or treat as
// fatal for the whole session.
type Kind int

const (
	// KindNone is the zero value; no error.
	KindNone Kind = iota
	KindProtocolViolation
	KindAuthFailed
	KindWrongProtocol
	KindTLSFailed
	KindTransferCommandFailedImmediate
	KindTransferCommandFailed
	KindTransferFailedCritical
	KindPreTransferCommandFailure
	KindTimeout
	KindResumeUnsupportedLargeFile
	KindCancelled
	KindLinkNotDir
	KindEncodingError
	KindInternalError
	KindDisconnected
	KindLocalIOError
)

func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol_violation"
	case KindAuthFailed:
		return "auth_failed"
	case KindWrongProtocol:
		return "wrong_protocol"
	case KindTLSFailed:
		return "tls_failed"
	case KindTransferCommandFailedImmediate:
		return "transfer_command_failed_immediate"
	case KindTransferCommandFailed:
		return "transfer_command_failed"
	case KindTransferFailedCritical:
		return "transfer_failed_critical"
	case KindPreTransferCommandFailure:
		return "pre_transfer_command_failure"
	case KindTimeout:
		return "timeout"
	case KindResumeUnsupportedLargeFile:
		return "resume_unsupported_large_file"
	case KindCancelled:
		return "cancelled"
	case KindLinkNotDir:
		return "link_not_dir"
	case KindEncodingError:
		return "encoding_error"
	case KindInternalError:
		return "internal_error"
	case KindDisconnected:
		return "disconnected"
	case KindLocalIOError:
		return "local_io_error"
	default:
		return "none"
	}
}

// Result is the bitmask returned to callers of a high-level operation (§6).
// Combinations are significant, e.g. DISCONNECTED|PASSWORDFAILED.
type Result uint32

const (
	ResultOK              Result = 0
	ResultWouldBlock      Result = 1 << iota
	ResultError
	ResultCriticalError
	ResultCanceled
	ResultDisconnected
	ResultInternalError
	ResultPasswordFailed
	ResultTimeout
	ResultNotSupported
	ResultWriteFailed
	ResultLinkNotDir
	ResultSyntaxError
)

func (r Result) String() string {
	if r == ResultOK {
		return "OK"
	}
	names := []struct {
		bit  Result
		name string
	}{
		{ResultWouldBlock, "WOULDBLOCK"},
		{ResultError, "ERROR"},
		{ResultCriticalError, "CRITICALERROR"},
		{ResultCanceled, "CANCELED"},
		{ResultDisconnected, "DISCONNECTED"},
		{ResultInternalError, "INTERNALERROR"},
		{ResultPasswordFailed, "PASSWORDFAILED"},
		{ResultTimeout, "TIMEOUT"},
		{ResultNotSupported, "NOTSUPPORTED"},
		{ResultWriteFailed, "WRITEFAILED"},
		{ResultLinkNotDir, "LINKNOTDIR"},
		{ResultSyntaxError, "SYNTAXERROR"},
	}
	out := ""
	for _, n := range names {
		if r&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "OK"
	}
	return out
}

// OpError wraps a Kind with the command/response context that produced it,
// chained through github.com/pkg/errors so callers can Cause() back to the
// original protocol error while engine code attaches the kind at the point
// of failure.
type OpError struct {
	Kind     Kind
	Command  string
	Response string
	Code     int
	cause    error
}

func (e *OpError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("ftp: %s", e.Kind)
	}
	return fmt.Sprintf("ftp: %s: %s failed: %s (code %d)", e.Kind, e.Command, e.Response, e.Code)
}

// Unwrap exposes the wrapped cause so errors.Is/As keep working across the
// github.com/pkg/errors boundary.
func (e *OpError) Unwrap() error { return e.cause }

// NewOpError builds an OpError, wrapping it with a stack-carrying cause via
// github.com/pkg/errors so the originating call site survives unwinding of
// the operation stack.
func NewOpError(kind Kind, command, response string, code int) *OpError {
	return &OpError{
		Kind:     kind,
		Command:  command,
		Response: response,
		Code:     code,
		cause:    errors.Errorf("%s: %s (code %d)", command, response, code),
	}
}

// WrapOpError attaches a Kind to an arbitrary error, preserving it as the
// cause.
func WrapOpError(kind Kind, command string, err error) *OpError {
	return &OpError{
		Kind:    kind,
		Command: command,
		cause:   errors.Wrap(err, command),
	}
}

// ResultForKind maps an error Kind to the bitmask a caller sees (§6/§7).
func ResultForKind(k Kind) Result {
	switch k {
	case KindAuthFailed:
		return ResultError | ResultPasswordFailed
	case KindTimeout:
		return ResultError | ResultTimeout
	case KindCancelled:
		return ResultCanceled
	case KindDisconnected:
		return ResultDisconnected
	case KindLinkNotDir:
		return ResultError | ResultLinkNotDir
	case KindTransferFailedCritical:
		return ResultCriticalError
	case KindResumeUnsupportedLargeFile:
		return ResultCriticalError | ResultNotSupported
	case KindEncodingError, KindProtocolViolation:
		return ResultError | ResultSyntaxError
	case KindInternalError:
		return ResultInternalError
	case KindLocalIOError:
		return ResultError | ResultWriteFailed
	case KindNone:
		return ResultOK
	default:
		return ResultError
	}
}
