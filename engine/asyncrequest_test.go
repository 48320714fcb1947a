package engine

import (
	"context"
	"testing"
)

func TestDenyAllHandler_FileExists(t *testing.T) {
	t.Parallel()
	resp, err := denyAllHandler{}.Handle(context.Background(), AsyncRequest{Kind: AsyncFileExists})
	if err != nil {
		t.Fatalf("Handle() error = %v, want nil for a file-exists conflict", err)
	}
	if !resp.Proceed || resp.FileAction != FileExistsResume {
		t.Errorf("resp = %+v, want Proceed=true FileAction=FileExistsResume", resp)
	}
}

func TestDenyAllHandler_RejectsEverythingElse(t *testing.T) {
	t.Parallel()
	for _, kind := range []AsyncRequestKind{AsyncInteractiveLogin, AsyncCertificate} {
		resp, err := denyAllHandler{}.Handle(context.Background(), AsyncRequest{Kind: kind})
		if err == nil {
			t.Errorf("kind %v: expected an error from the deny-all handler", kind)
		}
		if resp.Proceed {
			t.Errorf("kind %v: expected Proceed=false", kind)
		}
	}
}

func TestSession_RequestAsync_MarksAndClearsFrame(t *testing.T) {
	t.Parallel()
	s := NewSession()
	frame := s.stack.Push(OpLogin)
	defer s.stack.Pop()

	seen := false
	handler := asyncHandlerFunc(func(_ context.Context, req AsyncRequest) (AsyncResponse, error) {
		seen = frame.WaitsForAsyncRequest
		return AsyncResponse{Proceed: true}, nil
	})
	s.asyncHandler = handler

	if _, err := s.requestAsync(context.Background(), AsyncRequest{Kind: AsyncCertificate}); err != nil {
		t.Fatalf("requestAsync() error = %v", err)
	}
	if !seen {
		t.Error("expected WaitsForAsyncRequest to be true while the handler runs")
	}
	if frame.WaitsForAsyncRequest {
		t.Error("expected WaitsForAsyncRequest to be cleared after the handler returns")
	}
}

type asyncHandlerFunc func(ctx context.Context, req AsyncRequest) (AsyncResponse, error)

func (f asyncHandlerFunc) Handle(ctx context.Context, req AsyncRequest) (AsyncResponse, error) {
	return f(ctx, req)
}
