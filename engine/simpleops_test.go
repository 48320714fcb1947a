package engine

import (
	"bufio"
	"context"
	"os"
	"testing"
)

func TestSession_Delete_InvalidatesCache(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)
	s.dirCache.Store(s.CapabilityKey(), "/", Listing{Entries: []*Entry{{Name: "file.txt"}}})

	done := make(chan error, 1)
	go func() { done <- s.Delete("/file.txt") }()

	if line := scriptedExchange(t, reader, server, "250 Delete OK\r\n"); line != "DELE /file.txt\r\n" {
		t.Fatalf("command = %q, want DELE /file.txt", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	listing, _ := s.dirCache.Lookup(s.CapabilityKey(), "/")
	if len(listing.Entries) != 0 {
		t.Errorf("expected cached entry removed after Delete, got %v", listing.Entries)
	}
}

func TestSession_MakeDir_NonRecursive(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.MakeDir(context.Background(), "/newdir", false) }()

	if line := scriptedExchange(t, reader, server, "257 Directory created\r\n"); line != "MKD /newdir\r\n" {
		t.Fatalf("command = %q, want MKD /newdir", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("MakeDir() error = %v", err)
	}
}

func TestSession_MakeDir_FallsBackToAbsoluteRetry(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.MakeDir(context.Background(), "/a/b", true) }()

	if line := scriptedExchange(t, reader, server, "550 No such file or directory\r\n"); line != "MKD /a/b\r\n" {
		t.Fatalf("1st command = %q, want MKD /a/b", line)
	}
	if line := scriptedExchange(t, reader, server, "257 Directory created\r\n"); line != "MKD /a/b\r\n" {
		t.Fatalf("2nd command = %q, want the single absolute-path retry MKD /a/b", line)
	}

	if err := <-done; err != nil {
		t.Fatalf("MakeDir() error = %v", err)
	}
}

func TestSession_MakeDir_AlreadyExistsSuppressesFallback(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.MakeDir(context.Background(), "/a/existing", true) }()

	if line := scriptedExchange(t, reader, server, "550 /a/existing: already exists\r\n"); line != "MKD /a/existing\r\n" {
		t.Fatalf("command = %q, want MKD /a/existing", line)
	}

	if err := <-done; err != nil {
		t.Fatalf("MakeDir() error = %v, want nil (already-exists reply naming the target is treated as success)", err)
	}
}

func TestSession_MakeDir_FallbackFailureReturnsFirstReply(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.MakeDir(context.Background(), "/a/b", true) }()

	if line := scriptedExchange(t, reader, server, "550 Permission denied\r\n"); line != "MKD /a/b\r\n" {
		t.Fatalf("1st command = %q, want MKD /a/b", line)
	}
	if line := scriptedExchange(t, reader, server, "550 Permission denied\r\n"); line != "MKD /a/b\r\n" {
		t.Fatalf("2nd command = %q, want the single absolute-path retry MKD /a/b", line)
	}

	err := <-done
	opErr, ok := err.(*OpError)
	if !ok || opErr.Kind != KindProtocolViolation {
		t.Fatalf("MakeDir() error = %v, want *OpError with Kind=KindProtocolViolation", err)
	}
}

func TestSession_Rename(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.Rename("/old.txt", "/new.txt") }()

	if line := scriptedExchange(t, reader, server, "350 Ready for RNTO\r\n"); line != "RNFR /old.txt\r\n" {
		t.Fatalf("1st command = %q, want RNFR /old.txt", line)
	}
	if line := scriptedExchange(t, reader, server, "250 Rename OK\r\n"); line != "RNTO /new.txt\r\n" {
		t.Fatalf("2nd command = %q, want RNTO /new.txt", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
}

func TestSession_Rename_RNFRRejected(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.Rename("/missing.txt", "/new.txt") }()

	scriptedExchange(t, reader, server, "550 No such file\r\n")
	if err := <-done; err == nil {
		t.Fatal("expected Rename to fail when RNFR is rejected")
	}
}

func TestSession_Chmod(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.Chmod("/file.txt", os.FileMode(0o755)) }()

	if line := scriptedExchange(t, reader, server, "200 SITE CHMOD OK\r\n"); line != "SITE CHMOD 0755 /file.txt\r\n" {
		t.Fatalf("command = %q, want SITE CHMOD 0755 /file.txt", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
}

func TestSession_RawCommand_InvalidatesServerCache(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)
	s.dirCache.Store(s.CapabilityKey(), "/", Listing{Entries: []*Entry{{Name: "a"}}})

	done := make(chan error, 1)
	go func() {
		_, err := s.RawCommand("site", "idle 600")
		done <- err
	}()

	if line := scriptedExchange(t, reader, server, "200 Idle time set\r\n"); line != "SITE idle 600\r\n" {
		t.Fatalf("command = %q, want SITE idle 600 (verb upper-cased)", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("RawCommand() error = %v", err)
	}

	if _, ok := s.dirCache.Lookup(s.CapabilityKey(), "/"); ok {
		t.Error("expected RawCommand to invalidate the whole server's directory cache")
	}
}
