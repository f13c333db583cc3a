// Package imaptest serves the in-memory go-imap store on loopback for tests.
//
// The store logs in "username" with "password". Its INBOX holds one Seen
// message with UID 6.
package imaptest

import (
	"net"
	"testing"

	goimap "github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"github.com/brandon/mailsync/internal/config"
)

type Server struct {
	addr *net.TCPAddr
}

// NewServer starts a server that stops when the test ends.
func NewServer(t testing.TB, extensions ...server.Extension) *Server {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	s.Enable(extensions...)
	go s.Serve(l) //nolint:errcheck
	t.Cleanup(func() { s.Close() })

	return &Server{addr: l.Addr().(*net.TCPAddr)}
}

// Config returns the plain text settings of a pool of poolSize sessions.
func (s *Server) Config(password string, poolSize int) *config.IMAPConfig {
	return &config.IMAPConfig{
		Host:     s.addr.IP.String(),
		Port:     s.addr.Port,
		Login:    "username",
		Password: password,
		Security: config.SecurityNone,
		PoolSize: poolSize,
	}
}

// UIDPlus answers APPEND with the APPENDUID code. UIDs are read before the
// append, so concurrent appends to one mailbox may report the same UID.
var UIDPlus server.Extension = uidPlus{}

type uidPlus struct{}

func (uidPlus) Capabilities(server.Conn) []string {
	return []string{uidplus.Capability}
}

func (uidPlus) Command(name string) server.HandlerFactory {
	if name != "APPEND" {
		return nil
	}
	return func() server.Handler { return &appendUID{} }
}

type appendUID struct {
	server.Append
}

func (cmd *appendUID) Handle(conn server.Conn) error {
	ctx := conn.Context()
	if ctx.User == nil {
		return server.ErrNotAuthenticated
	}

	mbox, err := ctx.User.GetMailbox(cmd.Mailbox)
	if err != nil {
		return cmd.Append.Handle(conn)
	}
	status, err := mbox.Status([]goimap.StatusItem{goimap.StatusUidNext, goimap.StatusUidValidity})
	if err != nil {
		return err
	}

	if err := cmd.Append.Handle(conn); err != nil {
		return err
	}
	return server.ErrStatusResp(&goimap.StatusResp{
		Type:      goimap.StatusRespOk,
		Code:      uidplus.CodeAppendUid,
		Arguments: []interface{}{status.UidValidity, status.UidNext},
		Info:      "APPEND completed",
	})
}
