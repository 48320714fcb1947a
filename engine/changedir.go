package engine

import (
	"context"
	"strings"
)

// ChangeDir drives the Change-Dir Orchestrator (§4.F): it resolves subdir
// against the session's current path (consulting the path cache first),
// issues CWD, confirms the new location with PWD, and falls back to MKD when
// the server allows creating missing directories on the fly. When
// linkDiscovery is set, a failing CWD is reported as KindLinkNotDir instead
// of KindProtocolViolation, signalling the caller that subdir is probably a
// symlink to a file rather than a directory.
func (s *Session) ChangeDir(ctx context.Context, subdir string, mkdirIfMissing, linkDiscovery bool) (ServerPath, error) {
	frame := s.stack.Push(OpChangeDir)
	defer s.stack.Pop()

	server := s.CapabilityKey()

	if subdir == ".." {
		frame.SubState = 1 // cwd via CDUP
		return s.cdup(frame)
	}

	base, haveBase := s.CurrentPath()
	baseStr := ""
	if haveBase {
		baseStr = base.FormatAbsolute()
	}

	if cached, ok := s.pathCache.Lookup(server, baseStr, subdir); ok {
		frame.SubState = 2 // pwd_subdir (cache short-circuit)
		r, err := s.Exec("CWD", cached, false)
		if err == nil && r.Is2xx() {
			resolved := NewServerPath(s.ServerType(), cached)
			s.setCurrentPath(resolved)
			return resolved, nil
		}
		s.pathCache.InvalidatePath(server, baseStr, subdir)
	}

	frame.SubState = 0 // cwd
	s.clearCurrentPath()
	r, err := s.Exec("CWD", subdir, false)
	if err != nil {
		return ServerPath{}, err
	}

	if r.Is5xx() || r.Is4xx() {
		if mkdirIfMissing {
			frame.SubState = 3 // mkd-on-failure
			if _, merr := s.Expect2xx("MKD", subdir); merr != nil {
				return ServerPath{}, NewOpError(KindProtocolViolation, "CWD", r.Message, r.Code)
			}
			return s.ChangeDir(ctx, subdir, false, false)
		}
		if linkDiscovery {
			return ServerPath{}, NewOpError(KindLinkNotDir, "CWD", r.Message, r.Code)
		}
		return ServerPath{}, NewOpError(KindProtocolViolation, "CWD", r.Message, r.Code)
	}

	frame.SubState = 4 // pwd
	return s.confirmPWD(server, baseStr, subdir)
}

func (s *Session) cdup(frame *OpFrame) (ServerPath, error) {
	server := s.CapabilityKey()
	s.clearCurrentPath()
	r, err := s.Exec("CDUP", "", false)
	if err != nil {
		return ServerPath{}, err
	}
	if r.Is5xx() {
		frame.SubState = 5 // cwd_dotdot (CDUP-failure fallback)
		s.clearCurrentPath()
		if _, err := s.Expect2xx("CWD", ".."); err != nil {
			return ServerPath{}, err
		}
		return s.confirmPWD(server, "", "..")
	}
	if !r.Is2xx() {
		return ServerPath{}, NewOpError(KindProtocolViolation, "CDUP", r.Message, r.Code)
	}
	return s.confirmPWD(server, "", "..")
}

// confirmPWD issues PWD to confirm the path the server actually landed on,
// parses it, stores it in the path cache, and updates the session's current
// path (§4.F "pwd"/"pwd_cwd"/"pwd_subdir" sub-states, §3 invariant that the
// current path is only trustworthy once PWD confirms it).
func (s *Session) confirmPWD(server, base, subdir string) (ServerPath, error) {
	r, err := s.Expect2xx("PWD", "")
	if err != nil {
		return ServerPath{}, err
	}
	raw := extractQuoted(r.Message)
	if raw == "" {
		return ServerPath{}, NewOpError(KindProtocolViolation, "PWD", r.Message, r.Code)
	}
	resolved := NewServerPath(s.ServerType(), raw)
	s.setCurrentPath(resolved)
	s.pathCache.Store(server, resolved.FormatAbsolute(), base, subdir)
	return resolved, nil
}

// extractQuoted pulls the first "..."-quoted segment out of a PWD reply
// message, the common RFC 959 convention '"/some/path" is current directory'.
func extractQuoted(msg string) string {
	first := strings.IndexByte(msg, '"')
	if first == -1 {
		return ""
	}
	rest := msg[first+1:]
	last := strings.IndexByte(rest, '"')
	if last == -1 {
		return ""
	}
	return strings.ReplaceAll(rest[:last], `""`, `"`)
}
