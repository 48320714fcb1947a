package ftp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	fclog "github.com/fclairamb/go-log"
)

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

// clientConfig accumulates the options applied before Dial builds the
// underlying engine.Session; the session itself only understands the fully
// resolved engine.ServerIdentity, not the functional-options surface callers
// use.
type clientConfig struct {
	timeout          time.Duration
	idleTimeout      time.Duration
	tlsConfig        *tls.Config
	tlsMode          tlsMode
	logger           *slog.Logger
	dialer           *net.Dialer
	activeMode       bool
	disableEPSV      bool
	transferFallback bool
	parsers          []ListingParser
	clientName       string
}

// Option is a functional option for configuring an FTP client.
type Option func(*clientConfig) error

// WithTimeout sets the timeout for connection and operations.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending an idle probe
// (NOOP/TYPE/PWD, chosen at random). Set to 0 to disable.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		c.idleTimeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS): the client connects
// on the plain port and upgrades once connected.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *clientConfig) error {
		if c.tlsMode == tlsModeImplicit {
			return fmt.Errorf("explicit TLS cannot be combined with implicit TLS")
		}
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		c.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode: the client dials directly into
// a TLS handshake, typically on port 990.
func WithImplicitTLS(config *tls.Config) Option {
	return func(c *clientConfig) error {
		if c.tlsMode == tlsModeExplicit {
			return fmt.Errorf("implicit TLS cannot be combined with explicit TLS")
		}
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		c.tlsMode = tlsModeImplicit
		return nil
	}
}

// WithLogger enables debug logging using the provided structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *clientConfig) error {
		c.dialer = dialer
		return nil
	}
}

// WithActiveMode enables active mode (PORT) instead of passive mode
// (PASV/EPSV).
func WithActiveMode() Option {
	return func(c *clientConfig) error {
		c.activeMode = true
		return nil
	}
}

// WithDisableEPSV forces PASV instead of trying EPSV first.
func WithDisableEPSV() Option {
	return func(c *clientConfig) error {
		c.disableEPSV = true
		return nil
	}
}

// WithTransferModeFallback lets a rejected PASV/EPSV or PORT/EPRT flip to
// the other data-connection mode once and retry, instead of failing the
// transfer outright. Has no effect when WithActiveMode pins the mode.
func WithTransferModeFallback() Option {
	return func(c *clientConfig) error {
		c.transferFallback = true
		return nil
	}
}

// WithCustomListParser adds a custom directory listing parser, tried before
// the built-in EPLF/DOS/Unix parsers.
func WithCustomListParser(parser ListingParser) Option {
	return func(c *clientConfig) error {
		c.parsers = append([]ListingParser{parser}, c.parsers...)
		return nil
	}
}

// WithClientName sets the name sent via CLNT during login.
func WithClientName(name string) Option {
	return func(c *clientConfig) error {
		c.clientName = name
		return nil
	}
}

// slogLoggerAdapter bridges the caller-facing *slog.Logger option to the
// engine's fclairamb/go-log interface, the way the engine itself is logged
// from internally.
type slogLoggerAdapter struct{ l *slog.Logger }

func (a slogLoggerAdapter) Debug(event string, keyvals ...interface{}) { a.l.Debug(event, keyvals...) }
func (a slogLoggerAdapter) Info(event string, keyvals ...interface{})  { a.l.Info(event, keyvals...) }
func (a slogLoggerAdapter) Warn(event string, keyvals ...interface{})  { a.l.Warn(event, keyvals...) }
func (a slogLoggerAdapter) Error(event string, err error, keyvals ...interface{}) {
	a.l.Error(event, append([]interface{}{"err", err}, keyvals...)...)
}
func (a slogLoggerAdapter) With(keyvals ...interface{}) fclog.Logger {
	return slogLoggerAdapter{l: a.l.With(keyvals...)}
}
