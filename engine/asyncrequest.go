package engine

import (
	"context"
	"crypto/x509"
)

// AsyncRequestKind tags what kind of out-of-band decision an orchestrator
// needs from the caller before it can proceed (§4.L "Async Request
// Arbiter").
type AsyncRequestKind int

const (
	AsyncInteractiveLogin AsyncRequestKind = iota
	AsyncFileExists
	AsyncCertificate
)

// FileExistsAction is the caller's decision on a file-exists conflict.
type FileExistsAction int

const (
	FileExistsSkip FileExistsAction = iota
	FileExistsOverwrite
	FileExistsResume
	FileExistsRename
)

// AsyncRequest is handed to the installed AsyncRequestHandler; exactly one
// of its fields is meaningful, selected by Kind.
type AsyncRequest struct {
	Kind AsyncRequestKind

	// AsyncInteractiveLogin
	Prompt string

	// AsyncFileExists
	RemotePath     string
	LocalPath      string
	RemoteSize     int64
	LocalSize      int64

	// AsyncCertificate
	Certificate *x509.Certificate
}

// AsyncResponse carries the caller's answer back to the orchestrator that
// suspended on the matching AsyncRequest.
type AsyncResponse struct {
	Proceed    bool
	Password   string
	FileAction FileExistsAction
}

// AsyncRequestHandler is how a caller answers a suspended orchestrator
// (§4.L). The engine calls it synchronously from the orchestrator's
// goroutine — suspension is simply that goroutine blocking on the call,
// which is the Go-idiomatic replacement for the tagged "waiting for async
// answer" sub-state the source models explicitly.
type AsyncRequestHandler interface {
	Handle(ctx context.Context, req AsyncRequest) (AsyncResponse, error)
}

// denyAllHandler is the default handler: it never blocks indefinitely and
// never silently does something destructive. Certificates that already
// passed Go's own TLS chain verification are accepted (the async hook only
// exists to let a caller add its own UI confirmation on top), interactive
// login prompts fail closed, and file conflicts resume rather than
// overwrite.
type denyAllHandler struct{}

func (denyAllHandler) Handle(_ context.Context, req AsyncRequest) (AsyncResponse, error) {
	switch req.Kind {
	case AsyncFileExists:
		return AsyncResponse{Proceed: true, FileAction: FileExistsResume}, nil
	case AsyncCertificate:
		return AsyncResponse{Proceed: true}, nil
	default:
		return AsyncResponse{Proceed: false}, NewOpError(KindCancelled, "ASYNC", "no handler installed", 0)
	}
}

// DefaultAsyncRequestHandler is used when a Session is not given one via
// WithAsyncRequestHandler.
var DefaultAsyncRequestHandler AsyncRequestHandler = denyAllHandler{}

// WithAsyncRequestHandler installs a custom handler for suspended
// interactive-login, file-exists, and certificate decisions.
func WithAsyncRequestHandler(h AsyncRequestHandler) Option {
	return func(s *Session) { s.asyncHandler = h }
}

// requestAsync marks the current op frame as waiting, invokes the handler,
// and clears the flag regardless of outcome.
func (s *Session) requestAsync(ctx context.Context, req AsyncRequest) (AsyncResponse, error) {
	frame := s.stack.Current()
	if frame != nil {
		frame.WaitsForAsyncRequest = true
		defer func() { frame.WaitsForAsyncRequest = false }()
	}
	h := s.asyncHandler
	if h == nil {
		h = DefaultAsyncRequestHandler
	}
	return h.Handle(ctx, req)
}
