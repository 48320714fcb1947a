package engine

import (
	"crypto/tls"
	"time"

	fclog "github.com/fclairamb/go-log"
)

// Protocol selects the wire-level transport the session negotiates (§3).
type Protocol int

const (
	ProtocolFTP Protocol = iota
	ProtocolFTPS          // implicit TLS
	ProtocolFTPES         // explicit TLS (AUTH TLS)
)

// LogonType controls how the login orchestrator builds its command sequence.
type LogonType int

const (
	LogonNormal LogonType = iota
	LogonAnonymous
	LogonAsk
	LogonInteractive
	LogonAccount
)

// EncodingPref selects the character encoding policy used for command text.
type EncodingPref int

const (
	EncodingAuto EncodingPref = iota
	EncodingUTF8
	EncodingLocal
)

// PassiveModePref selects whether the raw-transfer orchestrator prefers
// passive or active data connections.
type PassiveModePref int

const (
	PassiveModeDefault PassiveModePref = iota
	PassiveModeForced
	PassiveModeActive
)

// ProxyType selects how the login sequence is constructed for proxied
// connections (§4.E).
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxyUserAtHost
	ProxySiteHost
	ProxyOpenHost
	ProxyCustom
)

// ExternalIPMode selects how the raw-transfer orchestrator discovers the
// address to advertise in PORT/EPRT (§6).
type ExternalIPMode int

const (
	ExternalIPDefault ExternalIPMode = iota
	ExternalIPFixed
	ExternalIPResolver
)

// ServerIdentity is the full connection/authentication/policy profile of a
// session (§3 "Server identity"). It is also the key under which capability
// state is cached (credentials excluded).
type ServerIdentity struct {
	Host     string
	Port     int
	Protocol Protocol

	User          string
	Password      string
	Account       string
	LogonType     LogonType
	Encoding      EncodingPref
	ServerType    ServerType
	PassiveMode   PassiveModePref
	BypassProxy   bool
	FixedTZOffset *time.Duration

	PostLoginCommands []string

	ProxyType           ProxyType
	ProxyHost           string
	ProxyUser           string
	ProxyPass           string
	ProxyCustomSequence []string

	ExternalIPMode     ExternalIPMode
	ExternalIP         string
	ExternalIPResolver string
	NoExternalOnLocal  bool

	ViewHiddenFiles           bool
	AllowTransferModeFallback bool
	PasvReplyFallbackMode     bool
	PreserveTimestamps        bool
	SendKeepalive             bool

	TLSConfig *tls.Config
}

// CapabilityKey returns the identity used to key the process-wide capability
// registry: host, port and protocol, deliberately excluding credentials.
func (s ServerIdentity) CapabilityKey() string {
	proto := "ftp"
	switch s.Protocol {
	case ProtocolFTPS:
		proto = "ftps"
	case ProtocolFTPES:
		proto = "ftpes"
	}
	return proto + "://" + s.Host + ":" + itoa(s.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Option configures a Session at construction time, mirroring the teacher's
// functional-options pattern (options.go) generalized to the full identity.
type Option func(*Session)

// WithTimeout sets the per-command inactivity timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger installs a structured logger (§6 notifications/debug channels).
func WithLogger(l fclog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithIdentity sets the full server identity up front.
func WithIdentity(id ServerIdentity) Option {
	return func(s *Session) { s.identity = id }
}

// WithCapabilityRegistry injects a capability registry, letting tests use a
// fresh one per test instead of the process-wide default (§9 Design Notes).
func WithCapabilityRegistry(r *CapabilityRegistry) Option {
	return func(s *Session) { s.capabilities = r }
}

// WithDirectoryCache injects a directory cache instance.
func WithDirectoryCache(c *DirectoryCache) Option {
	return func(s *Session) { s.dirCache = c }
}

// WithPathCache injects a path cache instance.
func WithPathCache(c *PathCache) Option {
	return func(s *Session) { s.pathCache = c }
}

// WithLockTable injects a lock table instance.
func WithLockTable(t *LockTable) Option {
	return func(s *Session) { s.locks = t }
}

// WithIOWorker installs a custom local file I/O worker (§6).
func WithIOWorker(w IOWorker) Option {
	return func(s *Session) { s.ioWorker = w }
}

// WithClientName sets the name sent in CLNT during login (§4.E step 7).
func WithClientName(name string) Option {
	return func(s *Session) { s.clientName = name }
}

// WithListParsers overrides the listing parser chain tried against each LIST
// line, ahead of the built-in EPLF/DOS/Unix parsers (§4.G, grounded on the
// teacher's WithCustomListParser).
func WithListParsers(parsers []Parser) Option {
	return func(s *Session) { s.listParsers = parsers }
}
