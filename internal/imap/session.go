// Package imap implements a backend over a remote IMAP server. Message ids
// are UIDs, which IMAP already keeps stable, so no id mapping is needed.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

const dialTimeout = 30 * time.Second

func init() {
	goimap.CharsetReader = charset.Reader
}

// session is one authenticated connection. Commands on a session are
// serialized by its mutex.
type session struct {
	mu sync.Mutex
	c  *client.Client
}

// pool hands out sessions round-robin.
type pool struct {
	sessions []*session
	cursor   atomic.Uint32
}

func (p *pool) acquire() *session {
	i := p.cursor.Add(1) - 1
	return p.sessions[int(i)%len(p.sessions)]
}

func (p *pool) close() error {
	var errs []error
	for _, s := range p.sessions {
		s.mu.Lock()
		if s.c != nil {
			if err := s.c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
				errs = append(errs, err)
			}
			s.c = nil
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func dialPool(ctx context.Context, cfg *config.IMAPConfig, password string, logger *logrus.Logger) (*pool, error) {
	size := cfg.PoolSize
	if size < 1 {
		size = 1
	}

	p := &pool{}
	for i := 0; i < size; i++ {
		c, err := dial(ctx, cfg, password)
		if err != nil {
			p.close() //nolint:errcheck
			return nil, err
		}
		p.sessions = append(p.sessions, &session{c: c})
	}

	logger.WithFields(logrus.Fields{
		"addr":     cfg.Addr(),
		"sessions": size,
	}).Info("Connected to IMAP server")
	return p, nil
}

func dial(ctx context.Context, cfg *config.IMAPConfig, password string) (*client.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if cfg.Security == config.SecurityTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", cfg.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if cfg.Security == config.SecurityStartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout() //nolint:errcheck
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if err := c.Login(cfg.Login, password); err != nil {
		c.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return c, nil
}
