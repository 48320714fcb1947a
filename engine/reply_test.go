package engine

import (
	"strings"
	"testing"
)

func TestReplyScanner_SingleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantMsg  string
		wantErr  bool
	}{
		{"simple success", "220 Welcome\r\n", 220, "Welcome", false},
		{"error response", "550 File not found\r\n", 550, "File not found", false},
		{"code with no message", "200 \r\n", 200, "", false},
		{"malformed", "xx\r\n", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newReplyScanner(strings.NewReader(tt.input))
			r, err := s.ReadReply()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if r.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", r.Code, tt.wantCode)
			}
			if r.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", r.Message, tt.wantMsg)
			}
		})
	}
}

func TestReplyScanner_MultiLine(t *testing.T) {
	t.Parallel()
	input := "220-Welcome to FTP\r\n" +
		"220-This is line 2\r\n" +
		"220 Ready\r\n"
	s := newReplyScanner(strings.NewReader(input))
	r, err := s.ReadReply()
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if r.Code != 220 {
		t.Errorf("Code = %d, want 220", r.Code)
	}
	if r.Message != "Ready" {
		t.Errorf("Message = %q, want %q", r.Message, "Ready")
	}
	if len(r.Lines) != 3 {
		t.Errorf("len(Lines) = %d, want 3", len(r.Lines))
	}
}

func TestReplyScanner_RFC2389ContinuationLines(t *testing.T) {
	t.Parallel()
	input := "211-Extensions supported:\r\n" +
		" MLST size*;create;modify*;perm;media-type\r\n" +
		" SIZE\r\n" +
		" MDTM\r\n" +
		"211 END\r\n"
	s := newReplyScanner(strings.NewReader(input))
	r, err := s.ReadReply()
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	if r.Code != 211 {
		t.Errorf("Code = %d, want 211", r.Code)
	}
	if len(r.Lines) != 5 {
		t.Errorf("len(Lines) = %d, want 5", len(r.Lines))
	}
}

func TestReply_CategoryAndCodeChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code                            int
		is1xx, is2xx, is3xx, is4xx, is5xx bool
		final                            bool
	}{
		{125, true, false, false, false, false, false},
		{200, false, true, false, false, false, true},
		{331, false, false, true, false, false, true},
		{421, false, false, false, true, false, true},
		{550, false, false, false, false, true, true},
	}
	for _, tt := range tests {
		r := &Reply{Code: tt.code}
		if r.Is1xx() != tt.is1xx {
			t.Errorf("Reply{%d}.Is1xx() = %v, want %v", tt.code, r.Is1xx(), tt.is1xx)
		}
		if r.Is2xx() != tt.is2xx {
			t.Errorf("Reply{%d}.Is2xx() = %v, want %v", tt.code, r.Is2xx(), tt.is2xx)
		}
		if r.Is3xx() != tt.is3xx {
			t.Errorf("Reply{%d}.Is3xx() = %v, want %v", tt.code, r.Is3xx(), tt.is3xx)
		}
		if r.Is4xx() != tt.is4xx {
			t.Errorf("Reply{%d}.Is4xx() = %v, want %v", tt.code, r.Is4xx(), tt.is4xx)
		}
		if r.Is5xx() != tt.is5xx {
			t.Errorf("Reply{%d}.Is5xx() = %v, want %v", tt.code, r.Is5xx(), tt.is5xx)
		}
		if r.Final() != tt.final {
			t.Errorf("Reply{%d}.Final() = %v, want %v", tt.code, r.Final(), tt.final)
		}
	}
}

func TestReply_String(t *testing.T) {
	t.Parallel()
	r := &Reply{Lines: []string{"220-a", "220 b"}}
	if got, want := r.String(), "220-a\n220 b"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
