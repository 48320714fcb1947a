package engine

import (
	"fmt"
	"strings"
)

// commandSender serializes FTP commands onto the control connection (§4.B).
// It is deliberately unaware of replies; pending/skip bookkeeping lives on
// Session (§4.C), which is the only caller.
type commandSender struct {
	session *Session
}

// send writes "<command> <args...>\r\n" to the control connection, encoding
// through the session's negotiated charset. When maskArgs is true and the
// command carries arguments, the logged line replaces them with asterisks
// (used for PASS and other secret-bearing commands, §4.B, §6).
func (cs *commandSender) send(verb string, args string, maskArgs bool) error {
	s := cs.session
	cmd := verb
	if args != "" {
		cmd = verb + " " + args
	}

	wire, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}

	logLine := cmd
	if maskArgs && args != "" {
		logLine = verb + " " + strings.Repeat("*", len(args))
	}
	s.logCommand(logLine)

	if _, err := fmt.Fprintf(s.conn, "%s\r\n", wire); err != nil {
		return WrapOpError(KindDisconnected, verb, err)
	}

	s.mu.Lock()
	s.pendingReplies++
	s.mu.Unlock()

	return nil
}
