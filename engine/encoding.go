package engine

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// textCodec converts outgoing command text between UTF-8 and the server's
// negotiated wire encoding (§3 "character-encoding preference", §4.B, §4.E
// charset fallback). The teacher carries no such conversion at all; the
// nearest pack precedent is nieware-goftp/encoding.go's hand-rolled
// ISO-8859-15 table, which this supersedes with golang.org/x/text.
type textCodec struct {
	useUTF8 bool
	local   *encoding.Encoder
	localD  *encoding.Decoder
}

func newTextCodec() *textCodec {
	return &textCodec{
		useUTF8: true,
		local:   charmap.ISO8859_15.NewEncoder(),
		localD:  charmap.ISO8859_15.NewDecoder(),
	}
}

// Encode converts s to the wire representation currently negotiated. It
// returns KindEncodingError (wrapped) when s cannot be represented in the
// local charset (§4.B).
func (c *textCodec) Encode(s string) (string, error) {
	if c.useUTF8 {
		return s, nil
	}
	out, err := c.local.String(s)
	if err != nil {
		return "", WrapOpError(KindEncodingError, "encode", err)
	}
	return out, nil
}

// Decode converts wire bytes back to UTF-8 for display/logging when the
// session is running in local-charset mode.
func (c *textCodec) Decode(s string) string {
	if c.useUTF8 {
		return s
	}
	out, err := c.localD.String(s)
	if err != nil {
		return s
	}
	return out
}

// SwitchToLocal demotes the codec to the local charset, used by the login
// orchestrator's once-only charset fallback (§4.E step 4, §7 propagation).
func (c *textCodec) SwitchToLocal() { c.useUTF8 = false }

// containsNonASCII reports whether s has any byte above ASCII range, used to
// decide whether the charset-fallback retry applies to a given credential.
func containsNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return true
		}
	}
	return false
}
