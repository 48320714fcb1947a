package engine

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MaxReplyLineLength bounds a single reply line; bytes beyond this are
// silently truncated rather than growing the buffer without limit (§4.A).
const MaxReplyLineLength = 8192

// Reply is a single- or multi-line FTP server reply (§3 "Control-session
// state", §4.A).
type Reply struct {
	Code    int
	Message string
	Lines   []string
}

// Category classifies the reply's leading digit.
type Category int

const (
	CategoryMalformed Category = iota
	CategoryIntermediate
	CategorySuccess
	CategoryContinue
	CategoryTransientFailure
	CategoryPermanentFailure
)

// Category returns the reply's category from its leading digit.
func (r *Reply) Category() Category {
	switch r.Code / 100 {
	case 1:
		return CategoryIntermediate
	case 2:
		return CategorySuccess
	case 3:
		return CategoryContinue
	case 4:
		return CategoryTransientFailure
	case 5:
		return CategoryPermanentFailure
	default:
		return CategoryMalformed
	}
}

// Is1xx reports whether the reply is an intermediate reply that does not
// terminate a pending command (§4.C).
func (r *Reply) Is1xx() bool { return r.Code >= 100 && r.Code < 200 }

// Is2xx reports success.
func (r *Reply) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }

// Is3xx reports an intermediate "need more" reply.
func (r *Reply) Is3xx() bool { return r.Code >= 300 && r.Code < 400 }

// Is4xx reports a transient failure.
func (r *Reply) Is4xx() bool { return r.Code >= 400 && r.Code < 500 }

// Is5xx reports a permanent failure.
func (r *Reply) Is5xx() bool { return r.Code >= 500 && r.Code < 600 }

// Final reports whether the reply terminates a pending command (§4.C): any
// category other than 1xx.
func (r *Reply) Final() bool { return !r.Is1xx() }

// String renders the reply's lines joined by newlines.
func (r *Reply) String() string { return strings.Join(r.Lines, "\n") }

// replyScanner reads whole FTP replies off a buffered reader, handling
// multi-line continuation and the RFC 2389 space-continuation variant. It
// treats CR, LF or NUL as line terminators and skips resulting empty
// segments, per §4.A.
type replyScanner struct {
	r *bufio.Reader
}

func newReplyScanner(r io.Reader) *replyScanner {
	return &replyScanner{r: bufio.NewReaderSize(r, 4096)}
}

// readLine reads one logical line terminated by CR, LF, or NUL, truncating
// at MaxReplyLineLength and skipping any resulting empty segments.
func (s *replyScanner) readLine() (string, error) {
	for {
		var buf []byte
		for {
			b, err := s.r.ReadByte()
			if err != nil {
				if len(buf) > 0 && err == io.EOF {
					return string(buf), nil
				}
				return "", err
			}
			if b == '\r' || b == '\n' || b == 0 {
				break
			}
			// Excess bytes beyond MaxReplyLineLength are silently
			// truncated rather than growing the buffer unbounded.
			if len(buf) < MaxReplyLineLength {
				buf = append(buf, b)
			}
		}
		if len(buf) == 0 {
			continue
		}
		return string(buf), nil
	}
}

// ReadReply reads one complete reply, blocking until it is fully received.
func (s *replyScanner) ReadReply() (*Reply, error) {
	line, err := s.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) < 3 {
		return nil, errors.Errorf("malformed reply line: %q", line)
	}
	code := parseReplyCode(line)

	lines := []string{line}

	isMultiline := len(line) >= 4 && line[3] == '-'
	if !isMultiline {
		return buildReply(code, lines), nil
	}

	codeStr := line[:3]
	for {
		l, err := s.readLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
		if len(l) > 0 && l[0] == ' ' {
			// RFC 2389 continuation line, not yet terminal.
			continue
		}
		if len(l) >= 4 && l[:3] == codeStr && l[3] == ' ' {
			return buildReply(code, lines), nil
		}
		// Any other non-blank line is an interior continuation line;
		// keep accumulating until the terminator arrives.
	}
}

func buildReply(code int, lines []string) *Reply {
	last := lines[len(lines)-1]
	msg := last
	if len(last) > 4 {
		msg = last[4:]
	}
	return &Reply{Code: code, Message: msg, Lines: lines}
}

// parseReplyCode returns the numeric value of the first three characters,
// or 0 if malformed (§4.A).
func parseReplyCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	n := 0
	for i := 0; i < 3; i++ {
		c := line[i]
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
