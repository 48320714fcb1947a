package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Delete removes a file and keeps the directory cache in sync (§4.J,
// grounded on directory.go's Delete).
func (s *Session) Delete(path string) error {
	s.stack.Push(OpDelete)
	defer s.stack.Pop()

	target := NewServerPath(s.ServerType(), path)
	if _, err := s.Expect2xx("DELE", path); err != nil {
		return err
	}
	s.dirCache.RemoveFile(s.CapabilityKey(), target.Parent().FormatAbsolute(), target.LastSegment())
	return nil
}

// RemoveDir removes a directory, optionally recursing through its contents
// first when the server doesn't support a bulk recursive delete (§4.J
// "RMD recursive", supplemented feature: the teacher never recurses).
func (s *Session) RemoveDir(ctx context.Context, path string, recursive bool) error {
	frame := s.stack.Push(OpRemoveDir)
	defer s.stack.Pop()

	server := s.CapabilityKey()
	target := NewServerPath(s.ServerType(), path)

	release, err := s.locks.Lock(ctx, server, target.FormatAbsolute(), LockMkdir)
	if err != nil {
		return WrapOpError(KindCancelled, "RMD", err)
	}
	frame.HoldsLock = LockMkdir.String()
	defer func() { release(); frame.HoldsLock = "" }()

	if recursive {
		listing, lerr := s.List(ctx, path, true)
		if lerr != nil {
			return lerr
		}
		for _, e := range listing.Entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			childPath := target.AddSegment(e.Name).FormatAbsolute()
			if e.Kind == KindDirectory {
				if err := s.RemoveDir(ctx, childPath, true); err != nil {
					return err
				}
			} else if err := s.Delete(childPath); err != nil {
				return err
			}
		}
	}

	if _, err := s.Expect2xx("RMD", path); err != nil {
		return err
	}
	s.dirCache.RemoveDir(server, target.FormatAbsolute())
	return nil
}

// MakeDir creates a directory, falling back to a single absolute-path MKD
// attempt when the first try fails for a reason other than the directory
// already being there (§4.J "MKD recursive"). A 5xx reply whose message
// names the target and reads like "already exists"/"file exists" is treated
// as success rather than retried, since recursing past that reply would
// otherwise mask the directory being present under a different ancestor than
// the one the server complained about.
func (s *Session) MakeDir(ctx context.Context, path string, recursive bool) error {
	frame := s.stack.Push(OpMakeDir)
	defer s.stack.Pop()

	server := s.CapabilityKey()
	target := NewServerPath(s.ServerType(), path)

	release, err := s.locks.Lock(ctx, server, target.FormatAbsolute(), LockMkdir)
	if err != nil {
		return WrapOpError(KindCancelled, "MKD", err)
	}
	frame.HoldsLock = LockMkdir.String()
	defer func() { release(); frame.HoldsLock = "" }()

	r, err := s.Exec("MKD", path, false)
	if err != nil {
		return err
	}
	if r.Is2xx() {
		s.dirCache.UpdateFile(server, target.Parent().FormatAbsolute(), target.LastSegment(), false, KindDirectory)
		return nil
	}
	if hasExistsSignal(r.Message) && strings.Contains(r.Message, target.LastSegment()) {
		s.dirCache.UpdateFile(server, target.Parent().FormatAbsolute(), target.LastSegment(), false, KindDirectory)
		return nil
	}
	if !recursive {
		return NewOpError(KindProtocolViolation, "MKD", r.Message, r.Code)
	}
	return s.mkdirTryFull(target, r)
}

// mkdirTryFull makes one further MKD attempt against the target's full
// absolute path, the recursive fallback's last resort when the first MKD
// failed for a reason other than "already exists" (§4.J, ported from the
// original engine's single full-path retry rather than recursing over every
// missing ancestor).
func (s *Session) mkdirTryFull(target ServerPath, firstReply *Reply) error {
	server := s.CapabilityKey()
	abs := target.FormatAbsolute()
	r, err := s.Exec("MKD", abs, false)
	if err != nil {
		return err
	}
	if !r.Is2xx() && !(hasExistsSignal(r.Message) && strings.Contains(r.Message, target.LastSegment())) {
		return NewOpError(KindProtocolViolation, "MKD", firstReply.Message, firstReply.Code)
	}
	s.dirCache.UpdateFile(server, target.Parent().FormatAbsolute(), target.LastSegment(), false, KindDirectory)
	return nil
}

// hasExistsSignal reports whether an MKD failure message reads like the
// directory is already there rather than some other protocol violation
// (§4.J, end-to-end scenario of a concurrent MKD racing another client).
func hasExistsSignal(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "already exists") || strings.Contains(lower, "file exists")
}

// Rename performs RNFR/RNTO and updates the directory cache for both the
// source and destination directories (§4.J, grounded on directory.go's
// Rename).
func (s *Session) Rename(from, to string) error {
	s.stack.Push(OpRename)
	defer s.stack.Pop()

	r, err := s.Exec("RNFR", from, false)
	if err != nil {
		return err
	}
	if r.Code != 350 {
		return NewOpError(KindProtocolViolation, "RNFR", r.Message, r.Code)
	}
	if _, err := s.Expect2xx("RNTO", to); err != nil {
		return err
	}

	server := s.CapabilityKey()
	fromPath := NewServerPath(s.ServerType(), from)
	toPath := NewServerPath(s.ServerType(), to)
	s.dirCache.Rename(server,
		fromPath.Parent().FormatAbsolute(), fromPath.LastSegment(),
		toPath.Parent().FormatAbsolute(), toPath.LastSegment())
	return nil
}

// Chmod issues SITE CHMOD (§4.J, grounded on directory.go's Chmod).
func (s *Session) Chmod(path string, mode os.FileMode) error {
	s.stack.Push(OpChmod)
	defer s.stack.Pop()

	octal := fmt.Sprintf("%04o", mode&os.ModePerm)
	if _, err := s.Expect2xx("SITE", "CHMOD "+octal+" "+path); err != nil {
		return err
	}
	target := NewServerPath(s.ServerType(), path)
	s.dirCache.InvalidateFile(s.CapabilityKey(), target.Parent().FormatAbsolute(), target.LastSegment())
	return nil
}

// RawCommand sends an arbitrary verb/args pair and invalidates the server's
// whole directory cache, since an operator-issued raw command may have
// mutated anything (§4.J "raw command").
func (s *Session) RawCommand(verb, args string) (*Reply, error) {
	s.stack.Push(OpRaw)
	defer s.stack.Pop()

	r, err := s.Exec(strings.ToUpper(verb), args, false)
	if err != nil {
		return nil, err
	}
	s.dirCache.InvalidateServer(s.CapabilityKey())
	return r, nil
}
