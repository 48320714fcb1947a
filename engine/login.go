package engine

import (
	"context"
	"strings"
)

// Connect drives the dial half of the Login Orchestrator (§4.E): opens the
// control connection (upgrading immediately for implicit TLS, which s.dial
// already handles), reads the WELCOME greeting, and performs the explicit
// TLS AUTH TLS handshake when the identity calls for it. It leaves the
// session ready for Authenticate, split out so a caller can connect before
// it has credentials in hand (the teacher's Dial/Login split).
func (s *Session) Connect(ctx context.Context) error {
	frame := s.stack.Push(OpLogin)
	defer s.stack.Pop()

	s.setState(StateConnecting)
	if err := s.dial(ctx); err != nil {
		return err
	}

	greeting, err := s.awaitFinalReply("WELCOME")
	if err != nil {
		return err
	}
	s.banner = greeting.Message
	if !greeting.Is2xx() {
		return NewOpError(KindAuthFailed, "WELCOME", greeting.Message, greeting.Code)
	}

	if s.identity.Protocol == ProtocolFTPES {
		frame.SubState = 1 // AUTH_WAIT
		if _, err := s.Expect2xx("AUTH", "TLS"); err != nil {
			return WrapOpError(KindTLSFailed, "AUTH TLS", err)
		}
		if err := s.upgradeToTLS(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Authenticate drives the rest of the Login Orchestrator once a control
// connection is established: USER/PASS (or a proxy login sequence), PBSZ/
// PROT, SYST, FEAT, CLNT, OPTS UTF8, OPTS MLST, and any post-login custom
// commands.
func (s *Session) Authenticate(ctx context.Context, user, password string) error {
	frame := s.stack.Push(OpLogin)
	defer s.stack.Pop()

	s.identity.User = user
	s.identity.Password = password

	frame.SubState = 2 // LOGON
	if err := s.runLogonSequence(); err != nil {
		return err
	}

	if s.identity.Protocol != ProtocolFTP {
		s.mu.Lock()
		s.protectDataChannel = true
		s.mu.Unlock()
		if _, err := s.Expect2xx("PBSZ", "0"); err != nil {
			return err
		}
		if _, err := s.Expect2xx("PROT", "P"); err != nil {
			return err
		}
	}

	frame.SubState = 3 // SYST
	skipCLNTAndUTF8 := strings.Contains(s.banner, "FileZilla")
	if r, err := s.Exec("SYST", "", false); err == nil && r.Is2xx() {
		s.capabilities.Set(s.CapabilityKey(), FeatSYSTCommand, CapYes, r.Message)
		s.inferServerType(r.Message, r.Lines)
		if strings.Contains(r.Message, "FileZilla") {
			skipCLNTAndUTF8 = true
		}
	}

	frame.SubState = 4 // FEAT
	if err := s.runFeat(); err != nil {
		return err
	}
	s.applyFixedTZOffset()

	frame.SubState = 5 // CLNT
	if s.clientName != "" && !skipCLNTAndUTF8 {
		if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatCLNTCommand); state != CapNo {
			if r, err := s.Exec("CLNT", s.clientName, false); err == nil {
				if r.Is2xx() {
					s.capabilities.Set(s.CapabilityKey(), FeatCLNTCommand, CapYes, nil)
				} else {
					s.capabilities.Set(s.CapabilityKey(), FeatCLNTCommand, CapNo, nil)
				}
			}
		}
	}

	frame.SubState = 6 // OPTS UTF8
	if s.useUTF8 && !skipCLNTAndUTF8 {
		if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatUTF8Command); state != CapNo {
			if _, err := s.Exec("OPTS", "UTF8 ON", false); err == nil {
				s.capabilities.Set(s.CapabilityKey(), FeatUTF8Command, CapYes, nil)
			}
		}
	}

	frame.SubState = 7 // OPTS MLST
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatOptsMLST); state != CapNo {
		if r, err := s.Exec("OPTS", "MLST type;size;modify;perm;unix.owner;unix.group;", false); err == nil && r.Is2xx() {
			s.capabilities.Set(s.CapabilityKey(), FeatOptsMLST, CapYes, nil)
		}
	}

	frame.SubState = 8 // CUSTOMCOMMANDS
	for _, raw := range s.identity.PostLoginCommands {
		verb, args, _ := strings.Cut(raw, " ")
		if _, err := s.Exec(verb, args, false); err != nil {
			return err
		}
	}

	frame.SubState = 9 // DONE
	s.setState(StateConnected)
	return nil
}

// Login runs Connect followed by Authenticate in one call, for callers that
// already have credentials up front (e.g. a config-driven identity with
// User/Password set via WithIdentity).
func (s *Session) Login(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Authenticate(ctx, s.identity.User, s.identity.Password)
}

// runLogonSequence performs the proxy preamble (if any) followed by
// USER/PASS, substituting %h/%u/%p/%s/%w/%a/%% in any custom proxy sequence
// (§4.E "LOGON", login_sequence construction per proxy type 0-4).
func (s *Session) runLogonSequence() error {
	if s.identity.ProxyType == ProxyCustom && len(s.identity.ProxyCustomSequence) > 0 {
		for _, raw := range s.identity.ProxyCustomSequence {
			verb, args, _ := strings.Cut(s.substitute(raw), " ")
			r, err := s.Exec(verb, args, verb == "PASS")
			if err != nil {
				return err
			}
			if r.Is5xx() || r.Is4xx() {
				return NewOpError(KindAuthFailed, verb, r.Message, r.Code)
			}
		}
		return nil
	}

	if s.identity.ProxyType != ProxyNone && s.identity.ProxyUser != "" {
		if err := s.proxyLogon(); err != nil {
			return err
		}
	}

	switch s.identity.ProxyType {
	case ProxySiteHost:
		if _, err := s.Expect2xx("SITE", s.identity.Host); err != nil {
			return err
		}
	case ProxyOpenHost:
		if _, err := s.Expect2xx("OPEN", s.identity.Host); err != nil {
			return err
		}
	}

	return s.runCredentialExchange(false)
}

// proxyLogon authenticates to the FTP proxy itself with the configured
// proxy credentials, ahead of the USER@HOST/SITE/OPEN step that names the
// real target server (§4.E proxy types 1-3, ported from the original
// engine's GetLoginSequence). A 230 reply to the proxy USER means the proxy
// needs no password.
func (s *Session) proxyLogon() error {
	r, err := s.Exec("USER", s.identity.ProxyUser, false)
	if err != nil {
		return err
	}
	if r.Code == 230 {
		return nil
	}
	if _, err := s.ExpectCode(230, "PASS", s.identity.ProxyPass, true); err != nil {
		return WrapOpError(KindAuthFailed, "PASS", err)
	}
	return nil
}

// runCredentialExchange performs USER/PASS/ACCT against the real target
// (§4.E "LOGON"). A 230 reply to USER means the server logged the client in
// without needing a password (§3a supplemented "already connected"
// short-circuit, ported from the teacher's Login). When PASS fails 5xx
// under an auto encoding policy and the credentials carry non-ASCII bytes,
// it switches the codec to the local charset and rebuilds the exchange once
// (§4.E step 4 charset fallback).
func (s *Session) runCredentialExchange(triedCharsetFallback bool) error {
	user := s.proxyUser()
	r, err := s.Exec("USER", user, false)
	if err != nil {
		return err
	}
	if r.Code == 230 {
		return nil
	}
	if r.Code != 331 && r.Code != 332 {
		return NewOpError(KindAuthFailed, "USER", r.Message, r.Code)
	}

	password := s.identity.Password
	if s.identity.LogonType == LogonInteractive && password == "" {
		resp, err := s.requestAsync(context.Background(), AsyncRequest{
			Kind: AsyncInteractiveLogin, Prompt: "password for " + user,
		})
		if err != nil {
			return WrapOpError(KindAuthFailed, "USER", err)
		}
		if !resp.Proceed {
			return NewOpError(KindAuthFailed, "USER", "interactive login declined", 0)
		}
		password = resp.Password
	}

	if _, err := s.ExpectCode(230, "PASS", password, true); err != nil {
		if !triedCharsetFallback && s.identity.Encoding == EncodingAuto && s.useUTF8 &&
			(containsNonASCII(user) || containsNonASCII(password)) {
			s.codec.SwitchToLocal()
			s.useUTF8 = false
			return s.runCredentialExchange(true)
		}
		return err
	}

	if s.identity.Account != "" {
		if _, err := s.Expect2xx("ACCT", s.identity.Account); err != nil {
			return err
		}
	}
	return nil
}

// proxyUser builds the USER argument for the configured proxy style: only
// ProxyUserAtHost folds the target host into the username itself, since
// ProxySiteHost/ProxyOpenHost instead name the target via a preceding
// SITE/OPEN command (§4.E).
func (s *Session) proxyUser() string {
	if s.identity.ProxyType == ProxyUserAtHost {
		return s.identity.User + "@" + s.identity.Host
	}
	return s.identity.User
}

// inferServerType applies §4.E step 5: once a 2xx SYST reply comes back and
// the identity didn't already pin a server type, sniff the MVS/Z-VM/HPNonStop
// dialect hints the original engine checks for.
func (s *Session) inferServerType(message string, lines []string) {
	if s.identity.ServerType != ServerTypeDefault {
		return
	}
	switch {
	case strings.HasPrefix(message, "MVS"):
		s.identity.ServerType = ServerTypeMVS
	case len(message) >= 4 && strings.EqualFold(message[:4], "Z/VM"):
		s.identity.ServerType = ServerTypeZVM
	case len(lines) > 0 && len(lines[0]) >= 4 && strings.EqualFold(lines[0][:4], "Z/VM"):
		s.identity.ServerType = ServerTypeZVM
	case len(message) >= 8 && strings.EqualFold(message[:8], "NONSTOP "):
		s.identity.ServerType = ServerTypeHPNonStop
	}
}

// substitute expands the proxy sequence placeholders: %h host, %u user, %p
// password, %s account, %w proxy user, %a proxy pass, %% literal percent.
func (s *Session) substitute(line string) string {
	id := s.identity
	replacer := strings.NewReplacer(
		"%h", id.Host,
		"%u", id.User,
		"%p", id.Password,
		"%s", id.Account,
		"%w", id.ProxyUser,
		"%a", id.ProxyPass,
		"%%", "%",
	)
	return replacer.Replace(line)
}

// runFeat issues FEAT and records every advertised tag in the capability
// registry, so later sub-states skip probing for things already known not to
// be supported (§4.D).
func (s *Session) runFeat() error {
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatFEATCommand); state == CapNo {
		return nil
	}
	r, err := s.Exec("FEAT", "", false)
	if err != nil {
		return err
	}
	if !r.Is2xx() {
		s.capabilities.Set(s.CapabilityKey(), FeatFEATCommand, CapNo, nil)
		return nil
	}
	s.capabilities.Set(s.CapabilityKey(), FeatFEATCommand, CapYes, nil)

	for _, line := range r.Lines {
		tag := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case tag == "" || strings.HasPrefix(tag, "211"):
			continue
		case strings.HasPrefix(tag, "UTF8"):
			s.capabilities.Set(s.CapabilityKey(), FeatUTF8Command, CapYes, nil)
		case strings.HasPrefix(tag, "MLST") || strings.HasPrefix(tag, "MLSD"):
			s.capabilities.Set(s.CapabilityKey(), FeatMLSDCommand, CapYes, nil)
			s.capabilities.Set(s.CapabilityKey(), FeatOptsMLST, CapYes, nil)
		case strings.HasPrefix(tag, "MODE Z"):
			s.capabilities.Set(s.CapabilityKey(), FeatModeZSupport, CapYes, nil)
		case strings.HasPrefix(tag, "MFMT"):
			s.capabilities.Set(s.CapabilityKey(), FeatMFMTCommand, CapYes, nil)
		case strings.HasPrefix(tag, "PRET"):
			s.capabilities.Set(s.CapabilityKey(), FeatPRETCommand, CapYes, nil)
		case strings.HasPrefix(tag, "TVFS"):
			s.capabilities.Set(s.CapabilityKey(), FeatTVFSSupport, CapYes, nil)
		case strings.HasPrefix(tag, "REST STREAM"):
			s.capabilities.Set(s.CapabilityKey(), FeatRestStream, CapYes, nil)
		}
	}
	return nil
}

// applyFixedTZOffset records a configured timezone offset (in minutes) as an
// already-known capability payload, short-circuiting the §4.G calibration
// probe.
func (s *Session) applyFixedTZOffset() {
	if s.identity.FixedTZOffset == nil {
		return
	}
	s.capabilities.Set(s.CapabilityKey(), FeatTimezoneOffset, CapYes, *s.identity.FixedTZOffset)
}
