package engine

import "time"

// keepaliveChoices are the commands the idle timer picks from at random
// (§4.K): cosmetic, side-effect-free commands every server accepts.
var keepaliveChoices = []string{"NOOP", "TYPE", "PWD"}

// StartKeepalive launches the idle timer described by §4.K: every half
// idleTimeout, if no operation is in flight and the session has been idle
// for at least idleTimeout, it fires one of NOOP/TYPE/PWD and marks its
// reply to be skipped rather than waited on, so the idle probe never blocks
// whichever orchestrator sends the next real command.
func (s *Session) StartKeepalive(idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		return
	}
	s.keepaliveStop = make(chan struct{})
	s.keepaliveDone = make(chan struct{})

	go func() {
		defer close(s.keepaliveDone)
		ticker := time.NewTicker(idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.fireKeepaliveProbe(idleTimeout)
			case <-s.keepaliveStop:
				return
			}
		}
	}()
}

func (s *Session) stopKeepalive() {
	if s.keepaliveStop == nil {
		return
	}
	close(s.keepaliveStop)
	<-s.keepaliveDone
	s.keepaliveStop = nil
}

func (s *Session) fireKeepaliveProbe(idleTimeout time.Duration) {
	s.mu.Lock()
	idle := time.Since(s.lastActivity) >= idleTimeout
	opActive := s.lastOpActive
	s.mu.Unlock()
	if !idle || opActive {
		return
	}

	if !s.cmdMu.TryLock() {
		return // a real command is already in flight; skip this tick
	}
	defer s.cmdMu.Unlock()

	s.stack.Push(OpKeepalive)
	defer s.stack.Pop()

	verb := keepaliveChoices[s.rng.Intn(len(keepaliveChoices))]
	args := ""
	if verb == "TYPE" {
		s.mu.Lock()
		args = s.lastType.wireCode()
		s.mu.Unlock()
	}

	if err := s.drainSkipped(); err != nil {
		return
	}
	if err := s.sender.send(verb, args, false); err != nil {
		return
	}
	s.mu.Lock()
	s.repliesToSkip++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
