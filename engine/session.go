package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	fclog "github.com/fclairamb/go-log"
	lognoop "github.com/fclairamb/go-log/noop"
)

// TransferType tracks which TYPE the control channel last negotiated
// (§3 "last TYPE applied").
type TransferType int

const (
	TypeUnknown TransferType = iota
	TypeBinary
	TypeASCII
)

func (t TransferType) wireCode() string {
	if t == TypeASCII {
		return "A"
	}
	return "I"
}

// State is the session's coarse connection lifecycle (§4.E state enum,
// collapsed to what callers outside the login orchestrator need to see).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Session is the per-connection control-channel state machine (§3
// "Control-session state", §4.C). One Session owns one control socket, at
// most one data socket, and serializes all command/reply cycles through
// cmdMu — the realization of §5's "at most one outstanding send/parse cycle"
// using a mutex instead of a hand-rolled WOULDBLOCK tick loop (§9 Design
// Notes: cooperative goroutines stand in for the source's manual ticks).
type Session struct {
	identity ServerIdentity
	logger   fclog.Logger
	timeout  time.Duration

	capabilities *CapabilityRegistry
	dirCache     *DirectoryCache
	pathCache    *PathCache
	locks        *LockTable
	ioWorker     IOWorker
	clientName   string
	listParsers  []Parser
	asyncHandler AsyncRequestHandler

	conn   net.Conn
	reader *replyScanner
	codec  *textCodec
	sender *commandSender
	banner string

	cmdMu sync.Mutex

	mu                 sync.Mutex
	state              State
	currentPath        *ServerPath
	currentPathKnown   bool
	lastType           TransferType
	tlsActive          bool
	protectDataChannel bool
	useUTF8            bool
	sentRestartOffset  int64
	pendingReplies     int
	repliesToSkip      int
	activeDataConn      net.Conn
	lastActivity       time.Time
	lastOpActive       bool

	stack *opStack

	keepaliveStop chan struct{}
	keepaliveDone chan struct{}
	rng           *randSource
}

// NewSession constructs a Session from options without connecting.
func NewSession(opts ...Option) *Session {
	s := &Session{
		timeout:      30 * time.Second,
		capabilities: DefaultCapabilityRegistry,
		dirCache:     DefaultDirectoryCache,
		pathCache:    DefaultPathCache,
		locks:        DefaultLockTable,
		ioWorker:     DefaultIOWorker,
		clientName:   "ftpengine",
		codec:        newTextCodec(),
		stack:        newOpStack(),
		logger:       lognoop.NewNoOpLogger(),
		rng:          newRandSource(1),
		asyncHandler: DefaultAsyncRequestHandler,
	}
	s.sender = &commandSender{session: s}
	for _, opt := range opts {
		opt(s)
	}
	s.useUTF8 = s.identity.Encoding != EncodingLocal
	if !s.useUTF8 {
		s.codec.SwitchToLocal()
	}
	return s
}

// CapabilityKey returns the key used for this session's capability lookups.
func (s *Session) CapabilityKey() string { return s.identity.CapabilityKey() }

// Identity returns the session's server identity.
func (s *Session) Identity() ServerIdentity { return s.identity }

// State returns the session's coarse connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// dial opens the TCP (and, for implicit TLS, TLS) control connection. It is
// the non-login part of §4.E's WELCOME prelude.
func (s *Session) dial(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.identity.Host, s.identity.Port)
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return WrapOpError(KindDisconnected, "CONNECT", err)
	}

	if s.identity.Protocol == ProtocolFTPS {
		cfg := s.tlsConfigWithCertApproval(ctx, s.identity.TLSConfig)
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return WrapOpError(KindTLSFailed, "CONNECT", err)
		}
		conn = tlsConn
		s.mu.Lock()
		s.tlsActive = true
		s.mu.Unlock()
	}

	s.conn = conn
	s.reader = newReplyScanner(conn)
	return nil
}

// upgradeToTLS performs the explicit-TLS AUTH TLS handshake (§4.E step 2-3).
func (s *Session) upgradeToTLS(ctx context.Context) error {
	cfg := s.tlsConfigWithCertApproval(ctx, s.identity.TLSConfig)
	tlsConn := tls.Client(s.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return WrapOpError(KindTLSFailed, "AUTH TLS", err)
	}
	s.conn = tlsConn
	s.reader = newReplyScanner(tlsConn)
	s.mu.Lock()
	s.tlsActive = true
	s.mu.Unlock()
	return nil
}

// tlsConfigWithCertApproval clones cfg (or builds a default one for
// identity.Host) and installs a VerifyPeerCertificate hook that runs the
// server's leaf certificate past the Async Request Arbiter (§4.L
// AsyncCertificate, §4.E step 3 "the certificate is accepted by the user")
// once Go's own chain verification has passed. A caller that already
// installed its own VerifyPeerCertificate, or opted out of verification
// entirely, is left alone.
func (s *Session) tlsConfigWithCertApproval(ctx context.Context, cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{ServerName: s.identity.Host}
	}
	if cfg.InsecureSkipVerify || cfg.VerifyPeerCertificate != nil {
		return cfg
	}
	out := cfg.Clone()
	out.VerifyPeerCertificate = func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		var leaf *x509.Certificate
		switch {
		case len(verifiedChains) > 0 && len(verifiedChains[0]) > 0:
			leaf = verifiedChains[0][0]
		case len(rawCerts) > 0:
			parsed, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return err
			}
			leaf = parsed
		}
		resp, err := s.requestAsync(ctx, AsyncRequest{Kind: AsyncCertificate, Certificate: leaf})
		if err != nil {
			return err
		}
		if !resp.Proceed {
			return NewOpError(KindTLSFailed, "CERTIFICATE", "certificate rejected by the installed handler", 0)
		}
		return nil
	}
	return out
}

// Exec sends one command and returns its terminal reply, draining any
// skipped replies first (§4.C). It is the sole request/response primitive
// every orchestrator is built on.
func (s *Session) Exec(verb string, args string, maskArgs bool) (*Reply, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	s.lastActivity = time.Now()
	s.lastOpActive = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.lastOpActive = false
		s.mu.Unlock()
	}()

	if err := s.drainSkipped(); err != nil {
		return nil, err
	}
	if err := s.sender.send(verb, args, maskArgs); err != nil {
		return nil, err
	}
	return s.awaitFinalReply(verb)
}

// drainSkipped consumes and discards replies owed to a cancelled or
// keepalive command before a new command is sent (§4.C, §5 "Keepalive
// commands always execute atomically... their replies are skipped").
func (s *Session) drainSkipped() error {
	for {
		s.mu.Lock()
		n := s.repliesToSkip
		s.mu.Unlock()
		if n <= 0 {
			return nil
		}
		r, err := s.reader.ReadReply()
		if err != nil {
			return WrapOpError(KindDisconnected, "drain", err)
		}
		if r.Is1xx() {
			continue
		}
		s.mu.Lock()
		s.pendingReplies--
		s.repliesToSkip--
		s.mu.Unlock()
	}
}

func (s *Session) awaitFinalReply(verb string) (*Reply, error) {
	for {
		r, err := s.reader.ReadReply()
		if err != nil {
			return nil, WrapOpError(KindDisconnected, verb, err)
		}
		s.logReply(r)
		if r.Is1xx() {
			continue
		}
		s.mu.Lock()
		s.pendingReplies--
		s.mu.Unlock()
		return r, nil
	}
}

// ExpectCode sends a command and requires an exact reply code.
func (s *Session) ExpectCode(code int, verb, args string, maskArgs bool) (*Reply, error) {
	r, err := s.Exec(verb, args, maskArgs)
	if err != nil {
		return nil, err
	}
	if r.Code != code {
		return r, NewOpError(kindForCommand(verb, r), verb, r.Message, r.Code)
	}
	return r, nil
}

// Expect2xx sends a command and requires a 2xx reply.
func (s *Session) Expect2xx(verb, args string) (*Reply, error) {
	r, err := s.Exec(verb, args, false)
	if err != nil {
		return nil, err
	}
	if !r.Is2xx() {
		return r, NewOpError(kindForCommand(verb, r), verb, r.Message, r.Code)
	}
	return r, nil
}

func kindForCommand(verb string, r *Reply) Kind {
	if verb == "PASS" && r.Is5xx() {
		return KindAuthFailed
	}
	return KindProtocolViolation
}

// CurrentPath returns the session's current path, which is only ever valid
// between a confirmed PWD/CWD success and the next CWD/CDUP attempt (§3
// invariant, §8 testable property).
func (s *Session) CurrentPath() (ServerPath, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentPathKnown || s.currentPath == nil {
		return ServerPath{}, false
	}
	return *s.currentPath, true
}

// clearCurrentPath is called immediately before sending CWD/CDUP/MKD so an
// overlapping reply can never observe a stale value (§4.F).
func (s *Session) clearCurrentPath() {
	s.mu.Lock()
	s.currentPathKnown = false
	s.currentPath = nil
	s.mu.Unlock()
}

func (s *Session) setCurrentPath(p ServerPath) {
	s.mu.Lock()
	s.currentPath = &p
	s.currentPathKnown = true
	s.mu.Unlock()
}

// SetType issues TYPE I/A, skipping the round trip when it already matches
// (§4.I "type" sub-state).
func (s *Session) SetType(t TransferType) error {
	s.mu.Lock()
	already := s.lastType == t
	s.mu.Unlock()
	if already {
		return nil
	}
	if _, err := s.Expect2xx("TYPE", t.wireCode()); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastType = t
	s.mu.Unlock()
	return nil
}

// ServerType returns the session's resolved server type, defaulting to Unix
// once SYST has been seen, or ServerTypeDefault before that.
func (s *Session) ServerType() ServerType { return s.identity.ServerType }

// Cancel implements the session-level cancellation described in §5: the
// current op's data socket is torn down, any outstanding replies are routed
// into repliesToSkip, and the op stack is unwound, releasing every held
// lock.
func (s *Session) Cancel() {
	frames := s.stack.Reset()
	s.mu.Lock()
	dataConn := s.activeDataConn
	s.activeDataConn = nil
	s.repliesToSkip = s.pendingReplies
	s.mu.Unlock()
	if dataConn != nil {
		dataConn.Close()
	}
	for _, f := range frames {
		if f.TransferEndReason == "" {
			f.TransferEndReason = EndReasonFailure
		}
	}
}

// Close tears down the control connection and stops the keepalive timer.
func (s *Session) Close() error {
	s.stopKeepalive()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) logCommand(line string) {
	if s.logger != nil {
		s.logger.Debug("ftp command", "cmd", line)
	}
}

func (s *Session) logReply(r *Reply) {
	if s.logger != nil {
		s.logger.Debug("ftp reply", "code", r.Code, "message", r.Message)
	}
}

// randSource is a tiny deterministic xorshift generator used by the
// keepalive orchestrator (§4.K "chosen uniformly at random"): the engine
// avoids math/rand's global lock and avoids needing a crypto-grade source
// for a purely cosmetic choice of which idle probe to send.
type randSource struct{ state uint64 }

func newRandSource(seed uint64) *randSource {
	if seed == 0 {
		seed = 1
	}
	return &randSource{state: seed}
}

func (r *randSource) Intn(n int) int {
	r.state ^= r.state << 13
	r.state ^= r.state >> 7
	r.state ^= r.state << 17
	if n <= 0 {
		return 0
	}
	v := r.state % uint64(n)
	return int(v)
}
