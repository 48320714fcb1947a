package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"
)

// TransferEndReason classifies how a raw data transfer finished (§4.I
// "Data-socket end-reason taxonomy").
type TransferEndReason string

const (
	EndReasonNone                           TransferEndReason = ""
	EndReasonSuccessful                     TransferEndReason = "successful"
	EndReasonTimeout                        TransferEndReason = "timeout"
	EndReasonTransferCommandFailure         TransferEndReason = "transfer_command_failure"
	EndReasonTransferCommandFailureImmediate TransferEndReason = "transfer_command_failure_immediate"
	EndReasonTransferFailureCritical        TransferEndReason = "transfer_failure_critical"
	EndReasonPreTransferCommandFailure      TransferEndReason = "pre_transfer_command_failure"
	EndReasonFailedResumeTest               TransferEndReason = "failed_resumetest"
	EndReasonFailure                        TransferEndReason = "failure"
)

// DataConnMode picks between passive and active data connection setup (§3
// "Passive mode preference").
type DataConnMode int

const (
	DataModePassive DataConnMode = iota
	DataModeActive
)

var (
	pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

func parsePASV(line string) (string, error) {
	m := pasvRegex.FindStringSubmatch(line)
	if len(m) != 7 {
		return "", fmt.Errorf("invalid PASV reply: %s", line)
	}
	var h [4]int
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v < 0 || v > 255 {
			return "", fmt.Errorf("invalid PASV IP octet: %s", m[i+1])
		}
		h[i] = v
	}
	host := fmt.Sprintf("%d.%d.%d.%d", h[0], h[1], h[2], h[3])
	p1, err1 := strconv.Atoi(m[5])
	p2, err2 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", fmt.Errorf("invalid PASV port octets: %s, %s", m[5], m[6])
	}
	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2)), nil
}

func parseEPSV(line string) (string, error) {
	m := epsvRegex.FindStringSubmatch(line)
	if len(m) != 2 {
		return "", fmt.Errorf("invalid EPSV reply: %s", line)
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 0 || port > 65535 {
		return "", fmt.Errorf("invalid EPSV port: %s", m[1])
	}
	return m[1], nil
}

func formatPORT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("PORT requires an IPv4 address")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid port: %s", portStr)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port/256, port%256), nil
}

func formatEPRT(addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %s", host)
	}
	netPrt := 2
	if ip.To4() != nil {
		netPrt = 1
	}
	return fmt.Sprintf("|%d|%s|%s|", netPrt, host, portStr), nil
}

// resolveDataAddr substitutes the control host when the server answers PASV
// with an unroutable 0.0.0.0 (common behind NAT).
func resolveDataAddr(pasvAddr, controlHost string) string {
	host, port, err := net.SplitHostPort(pasvAddr)
	if err != nil {
		return pasvAddr
	}
	if host == "0.0.0.0" {
		return net.JoinHostPort(controlHost, port)
	}
	return pasvAddr
}

// activeListener wraps a PORT/EPRT listener, deferring accept() until the
// transfer command has been sent (mirrors the teacher's activeDataConn).
type activeListener struct {
	listener  net.Listener
	conn      net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

func (a *activeListener) accept() error {
	if a.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	c, err := a.listener.Accept()
	if err != nil {
		return err
	}
	a.conn = c
	if a.tlsConfig != nil {
		tlsConn := tls.Server(c, a.tlsConfig)
		if a.timeout > 0 {
			_ = c.SetDeadline(time.Now().Add(a.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			c.Close()
			return err
		}
		a.conn = tlsConn
	}
	return nil
}

func (a *activeListener) ensure() error {
	if a.conn == nil {
		return a.accept()
	}
	return nil
}

func (a *activeListener) Read(p []byte) (int, error) {
	if err := a.ensure(); err != nil {
		return 0, err
	}
	return a.conn.Read(p)
}

func (a *activeListener) Write(p []byte) (int, error) {
	if err := a.ensure(); err != nil {
		return 0, err
	}
	return a.conn.Write(p)
}

func (a *activeListener) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if a.listener != nil {
		if lerr := a.listener.Close(); err == nil {
			err = lerr
		}
	}
	return err
}

func (a *activeListener) LocalAddr() net.Addr {
	if a.conn != nil {
		return a.conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeListener) RemoteAddr() net.Addr {
	if a.conn != nil {
		return a.conn.RemoteAddr()
	}
	return nil
}

func (a *activeListener) SetDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetDeadline(t)
	}
	return nil
}

func (a *activeListener) SetReadDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeListener) SetWriteDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetWriteDeadline(t)
	}
	return nil
}

// openDataConn implements §4.I's PASV/EPSV-then-PORT/EPRT-fallback
// sub-states, adapted from the teacher's data.go.
func (s *Session) openDataConn(mode DataConnMode) (net.Conn, error) {
	if mode == DataModeActive {
		return s.openActiveDataConn()
	}
	return s.openPassiveDataConn()
}

func (s *Session) openPassiveDataConn() (net.Conn, error) {
	var addr string

	epsvState, _ := s.capabilities.Get(s.CapabilityKey(), FeatEPSV)
	if epsvState != CapNo {
		if r, err := s.Exec("EPSV", "", false); err == nil {
			if r.Code == 502 {
				s.capabilities.Set(s.CapabilityKey(), FeatEPSV, CapNo, nil)
			} else if r.Is2xx() {
				s.capabilities.Set(s.CapabilityKey(), FeatEPSV, CapYes, nil)
				if port, perr := parseEPSV(r.Message); perr == nil {
					addr = net.JoinHostPort(s.identity.Host, port)
				}
			}
		}
	}

	if addr == "" {
		r, err := s.Expect2xx("PASV", "")
		if err != nil {
			return nil, WrapOpError(KindProtocolViolation, "PASV", err)
		}
		parsed, err := parsePASV(r.Message)
		if err != nil {
			return nil, NewOpError(KindProtocolViolation, "PASV", err.Error(), r.Code)
		}
		addr = resolveDataAddr(parsed, s.identity.Host)
	}

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, WrapOpError(KindDisconnected, "DATA-CONNECT", err)
	}

	s.mu.Lock()
	protect := s.protectDataChannel
	s.mu.Unlock()
	if protect {
		cfg := s.identity.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: s.identity.Host}
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, WrapOpError(KindTLSFailed, "DATA-TLS", err)
		}
		conn = tlsConn
	}
	return conn, nil
}

func (s *Session) openActiveDataConn() (net.Conn, error) {
	local := s.conn.LocalAddr().String()
	host, _, err := net.SplitHostPort(local)
	if err != nil {
		host = "0.0.0.0"
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return nil, WrapOpError(KindLocalIOError, "PORT-LISTEN", err)
		}
	}

	addr := listener.Addr().String()
	localHost, _, _ := net.SplitHostPort(addr)
	ip := net.ParseIP(localHost)

	var verb, line string
	if ip != nil && ip.To4() == nil {
		verb = "EPRT"
		line, err = formatEPRT(addr)
	} else {
		verb = "PORT"
		line, err = formatPORT(addr)
	}
	if err != nil {
		listener.Close()
		return nil, WrapOpError(KindProtocolViolation, verb, err)
	}

	if _, err := s.Expect2xx(verb, line); err != nil {
		listener.Close()
		return nil, err
	}

	s.mu.Lock()
	protect := s.protectDataChannel
	s.mu.Unlock()
	var tlsCfg *tls.Config
	if protect {
		tlsCfg = s.identity.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: s.identity.Host}
		}
	}
	return &activeListener{listener: listener, tlsConfig: tlsCfg, timeout: s.timeout}, nil
}

// resolveDataMode applies the identity's passive/active policy (§3 "Passive
// mode preference") on top of the orchestrator's own preference: Forced and
// Active pin the mode outright, Default defers to whatever the caller asked
// for.
func (s *Session) resolveDataMode(preferred DataConnMode) DataConnMode {
	switch s.identity.PassiveMode {
	case PassiveModeForced:
		return DataModePassive
	case PassiveModeActive:
		return DataModeActive
	default:
		return preferred
	}
}

func flipDataMode(mode DataConnMode) DataConnMode {
	if mode == DataModePassive {
		return DataModeActive
	}
	return DataModePassive
}

// RunRawTransfer performs the full §4.I orchestration for one transfer
// command: TYPE, PASV/PORT, REST (if offset > 0), the transfer verb, and the
// final completion reply. copyFn drives the actual byte copy against conn.
//
// The transfer verb's preliminary reply (typically 1xx "opening data
// connection", occasionally carrying a generated filename as with STOU) is
// returned alongside the completion reason so callers like StoreUnique can
// recover it. Unlike Exec, the send/preliminary-reply/copy/final-reply
// sequence holds cmdMu for its whole duration rather than per round trip:
// the control connection can't be trusted to interleave another command
// with a reply pair that spans the data copy.
//
// When PassiveMode is left at its default and AllowTransferModeFallback is
// set, a pre-transfer failure (PASV/EPSV rejected, or the server refusing a
// PORT/EPRT) flips passive/active once and retries the whole data-connection
// setup (§4.I "Fallback policy").
func (s *Session) RunRawTransfer(ctx context.Context, mode DataConnMode, transferType TransferType, verb, args string, offset int64, copyFn func(conn net.Conn) error) (TransferEndReason, *Reply, error) {
	frame := s.stack.Push(OpRawTransfer)
	defer s.stack.Pop()

	if err := s.SetType(transferType); err != nil {
		frame.TransferEndReason = EndReasonPreTransferCommandFailure
		return frame.TransferEndReason, nil, err
	}

	mode = s.resolveDataMode(mode)
	allowFallback := s.identity.PassiveMode == PassiveModeDefault && s.identity.AllowTransferModeFallback

	reason, reply, err := s.runRawTransferAttempt(ctx, frame, mode, verb, args, offset, copyFn)
	if err != nil && allowFallback && reason == EndReasonPreTransferCommandFailure {
		mode = flipDataMode(mode)
		reason, reply, err = s.runRawTransferAttempt(ctx, frame, mode, verb, args, offset, copyFn)
	}
	return reason, reply, err
}

func (s *Session) runRawTransferAttempt(ctx context.Context, frame *OpFrame, mode DataConnMode, verb, args string, offset int64, copyFn func(conn net.Conn) error) (TransferEndReason, *Reply, error) {
	conn, err := s.openDataConn(mode)
	if err != nil {
		frame.TransferEndReason = EndReasonPreTransferCommandFailure
		return frame.TransferEndReason, nil, err
	}

	s.mu.Lock()
	s.activeDataConn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeDataConn = nil
		s.mu.Unlock()
	}()

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
		conn.Close()
		frame.TransferEndReason = EndReasonPreTransferCommandFailure
		return frame.TransferEndReason, nil, err
	}

	if offset > 0 {
		if err := s.sender.send("REST", strconv.FormatInt(offset, 10), false); err != nil {
			conn.Close()
			frame.TransferEndReason = EndReasonFailedResumeTest
			return frame.TransferEndReason, nil, err
		}
		rr, err := s.awaitFinalReply("REST")
		if err != nil {
			conn.Close()
			frame.TransferEndReason = EndReasonFailedResumeTest
			return frame.TransferEndReason, nil, err
		}
		if !rr.Is3xx() {
			conn.Close()
			frame.TransferEndReason = EndReasonFailedResumeTest
			return frame.TransferEndReason, nil, NewOpError(KindProtocolViolation, "REST", rr.Message, rr.Code)
		}
		s.mu.Lock()
		s.sentRestartOffset = offset
		s.mu.Unlock()
	}

	if err := s.sender.send(verb, args, false); err != nil {
		conn.Close()
		frame.TransferEndReason = EndReasonTransferCommandFailureImmediate
		return frame.TransferEndReason, nil, err
	}

	prelim, err := s.reader.ReadReply()
	if err != nil {
		conn.Close()
		frame.TransferEndReason = EndReasonTransferCommandFailureImmediate
		return frame.TransferEndReason, nil, WrapOpError(KindDisconnected, verb, err)
	}
	s.logReply(prelim)

	if !prelim.Is1xx() {
		s.mu.Lock()
		s.pendingReplies--
		s.mu.Unlock()
		conn.Close()
		if !prelim.Is2xx() {
			frame.TransferEndReason = EndReasonTransferCommandFailureImmediate
			return frame.TransferEndReason, prelim, NewOpError(KindProtocolViolation, verb, prelim.Message, prelim.Code)
		}
		frame.TransferEndReason = EndReasonSuccessful
		return frame.TransferEndReason, prelim, nil
	}

	copyErr := copyFn(conn)
	closeErr := conn.Close()

	final, err := s.awaitFinalReply(verb)
	if err != nil {
		frame.TransferEndReason = EndReasonTimeout
		return frame.TransferEndReason, prelim, err
	}

	switch {
	case copyErr != nil:
		frame.TransferEndReason = EndReasonTransferFailureCritical
		return frame.TransferEndReason, prelim, WrapOpError(KindLocalIOError, verb, copyErr)
	case closeErr != nil:
		frame.TransferEndReason = EndReasonTransferFailureCritical
		return frame.TransferEndReason, prelim, WrapOpError(KindLocalIOError, verb, closeErr)
	case !final.Is2xx():
		frame.TransferEndReason = EndReasonTransferCommandFailure
		return frame.TransferEndReason, prelim, NewOpError(KindProtocolViolation, verb, final.Message, final.Code)
	}

	frame.TransferEndReason = EndReasonSuccessful
	return frame.TransferEndReason, prelim, nil
}
