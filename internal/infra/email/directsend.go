package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"postroom/internal/common"
	"postroom/internal/config"
	"postroom/internal/domain/notification"
	"postroom/internal/infra/pool"
)

var _ notification.Provider = (*DirectSendProvider)(nil)

// MailConn is one open SMTP session.
type MailConn interface {
	io.Closer
	pool.Aborter

	// SendMail runs one MAIL/RCPT/DATA transaction on the session.
	SendMail(ctx context.Context, from string, rcpts []string, msg []byte) error
}

// smtpConn is a MailConn over net/smtp.
type smtpConn struct {
	conn   net.Conn
	client *smtp.Client
	used   bool
}

func (c *smtpConn) SendMail(ctx context.Context, from string, rcpts []string, msg []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.send(from, rcpts, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func (c *smtpConn) send(from string, rcpts []string, msg []byte) error {
	if c.used {
		if err := c.client.Reset(); err != nil {
			return fmt.Errorf("RSET: %w", err)
		}
	}
	c.used = true

	if err := c.client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ending DATA: %w", err)
	}
	return nil
}

// Abort drops the TCP connection without QUIT. It is safe to call while
// SendMail runs on another goroutine; the blocked write or read then fails.
func (c *smtpConn) Abort() error {
	return c.conn.Close()
}

func (c *smtpConn) Close() error {
	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := c.client.Quit(); err != nil {
		return c.client.Close()
	}
	return nil
}

// SMTPDialer opens authenticated SMTP sessions.
func SMTPDialer(cfg config.DirectSendConfig) pool.DialFunc[MailConn] {
	addr := net.JoinHostPort(cfg.SMTPServer, strconv.Itoa(cfg.SMTPPort))
	helo := cfg.HeloName
	if helo == "" {
		helo = "localhost"
	}

	return func(ctx context.Context) (MailConn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}

		client, err := smtp.NewClient(conn, cfg.SMTPServer)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp greeting: %w", err)
		}
		if err := client.Hello(helo); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("EHLO: %w", err)
		}

		// net/smtp refuses PLAIN auth on an unencrypted connection to a remote host.
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.SMTPServer}); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
		if cfg.Username != "" {
			auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer)
			if err := client.Auth(auth); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("AUTH: %w", err)
			}
		}

		_ = conn.SetDeadline(time.Time{})
		return &smtpConn{conn: conn, client: client}, nil
	}
}

// DirectSendProvider delivers messages over pooled SMTP sessions.
type DirectSendProvider struct {
	pool *pool.Pool[MailConn]
	from mail.Address
	now  func() time.Time
}

// NewDirectSendProvider creates a direct-send provider with its own connection pool.
func NewDirectSendProvider(cfg config.DirectSendConfig) *DirectSendProvider {
	return newDirectSendProvider(SMTPDialer(cfg), mail.Address{
		Name:    cfg.DisplayName,
		Address: cfg.FromAddress,
	}, poolConfig(cfg.Pool))
}

func newDirectSendProvider(dial pool.DialFunc[MailConn], from mail.Address, pcfg pool.Config) *DirectSendProvider {
	return &DirectSendProvider{
		pool: pool.New(dial, pcfg),
		from: from,
		now:  time.Now,
	}
}

func poolConfig(c config.PoolConfig) pool.Config {
	return pool.Config{
		MaxSize:        c.MaxSize,
		AcquireTimeout: time.Duration(c.AcquireTimeoutSec) * time.Second,
		IdleTTL:        time.Duration(c.IdleTTLSec) * time.Second,
		LeaseTimeout:   time.Duration(c.LeaseTimeoutSec) * time.Second,
		SweepInterval:  time.Duration(c.SweepIntervalSec) * time.Second,
	}
}

// Name returns the provider kind.
func (p *DirectSendProvider) Name() string {
	return config.ProviderDirectSend
}

// Send validates, composes and transmits one message. The leased connection
// goes back to the pool on every path; broken sessions are discarded.
func (p *DirectSendProvider) Send(ctx context.Context, msg *notification.EmailMessage) notification.DeliveryOutcome {
	env, err := parseEnvelope(msg, p.from)
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "invalid message", err, false), false)
	}

	messageID := newMessageID(env.From.Address)
	data, err := composeMIME(env, msg, messageID, p.now())
	if err != nil {
		return notification.Failed(common.WrapProviderError(p.Name(), "composing message", err, false), false)
	}

	lease, err := p.pool.Acquire(ctx)
	if err != nil {
		retryable, _ := classifySMTPError(err)
		return notification.Failed(common.WrapProviderError(p.Name(), "acquiring connection", err, retryable), retryable)
	}

	err = lease.Client().SendMail(ctx, env.From.Address, env.recipients(), data)
	if err == nil {
		lease.Release()
		return notification.Sent(messageID)
	}

	retryable, reusable := classifySMTPError(err)
	if reusable {
		lease.Release()
	} else {
		lease.Discard()
	}

	slog.Debug("smtp send failed",
		"notification_id", msg.NotificationID,
		"retryable", retryable,
		"connection_reused", reusable,
		"error", err,
	)
	return notification.Failed(common.WrapProviderError(p.Name(), "sending message", err, retryable), retryable)
}

// classifySMTPError decides whether err is transient and whether the session
// that produced it can still be used. A server reply leaves the session
// usable unless it is a 421 shutdown notice; anything else (network,
// deadline) breaks it.
func classifySMTPError(err error) (retryable, reusable bool) {
	if errors.Is(err, common.ErrPoolExhausted) {
		return true, false
	}
	if errors.Is(err, pool.ErrClosed) {
		return false, false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true, false
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		return reply.Code < 500, reply.Code != 421
	}
	return true, false
}

// PoolStats returns the connection pool counters.
func (p *DirectSendProvider) PoolStats() pool.Stats {
	return p.pool.Stats()
}

// Close shuts the connection pool down.
func (p *DirectSendProvider) Close() error {
	return p.pool.Close()
}
