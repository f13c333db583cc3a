package imap

import (
	"context"
	"testing"

	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/imap/imaptest"
	"github.com/brandon/mailsync/pkg/types"
)

// newTestBackend connects to a fresh in-memory server. Its INBOX holds a
// single Seen message with UID 6.
func newTestBackend(t *testing.T, extensions ...server.Extension) *Backend {
	t.Helper()

	srv := imaptest.NewServer(t, extensions...)
	account := &config.AccountConfig{
		Name:    "remote",
		Backend: config.BackendConfig{IMAP: srv.Config("password", 2)},
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	b, err := New(context.Background(), account, logger)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestFolders(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.AddFolder(ctx, "Archive"))

	folders, err := b.ListFolders(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"INBOX", "Archive"}, folders.Names())

	require.NoError(t, b.DeleteFolder(ctx, "Archive"))
	folders, err = b.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX"}, folders.Names())
}

func TestListEnvelopes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	envs, err := b.ListEnvelopes(ctx, "INBOX", 10, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	env := envs[0]
	require.Equal(t, "6", env.ID)
	require.Equal(t, "6", env.InternalID)
	require.Equal(t, "0000000@localhost/", env.MessageID)
	require.Equal(t, "A little message, just for you", env.Subject)
	require.Equal(t, "contact@example.org", env.From.Address)
	require.True(t, env.Flags.Has(types.FlagSeen))

	_, err = b.ListEnvelopes(ctx, "INBOX", 10, 1)
	require.True(t, backend.IsOutOfBounds(err))

	require.NoError(t, b.AddFolder(ctx, "Empty"))
	envs, err = b.ListEnvelopes(ctx, "Empty", 10, 0)
	require.NoError(t, err)
	require.Empty(t, envs)
}

func TestFlags(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.AddFlags(ctx, "INBOX", []string{"6"}, types.NewFlags(types.FlagFlagged, "work")))
	env, err := b.GetEnvelope(ctx, "INBOX", "6")
	require.NoError(t, err)
	require.True(t, env.Flags.Equal(types.NewFlags(types.FlagSeen, types.FlagFlagged, "work")))

	require.NoError(t, b.RemoveFlags(ctx, "INBOX", []string{"6"}, types.NewFlags(types.FlagSeen)))
	env, err = b.GetEnvelope(ctx, "INBOX", "6")
	require.NoError(t, err)
	require.False(t, env.Flags.Has(types.FlagSeen))

	require.NoError(t, b.SetFlags(ctx, "INBOX", []string{"6"}, types.NewFlags(types.FlagAnswered, types.FlagRecent)))
	env, err = b.GetEnvelope(ctx, "INBOX", "6")
	require.NoError(t, err)
	require.True(t, env.Flags.Equal(types.NewFlags(types.FlagAnswered)))

	_, err = b.GetEnvelope(ctx, "INBOX", "99")
	require.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.GetEnvelope(ctx, "INBOX", "abc")
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSearchEnvelopes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	envs, err := b.SearchEnvelopes(ctx, "INBOX", "subject little", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	envs, err = b.SearchEnvelopes(ctx, "INBOX", "not flag seen", "", 0, 0)
	require.NoError(t, err)
	require.Empty(t, envs)

	_, err = b.SearchEnvelopes(ctx, "INBOX", "subject", "", 0, 0)
	require.Error(t, err)
}

func TestEmails(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.RemoveFlags(ctx, "INBOX", []string{"6"}, types.NewFlags(types.FlagSeen)))

	emails, err := b.PreviewEmails(ctx, "INBOX", []string{"6"})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	require.Contains(t, string(emails[0].Raw), "Subject: A little message")

	env, err := b.GetEnvelope(ctx, "INBOX", "6")
	require.NoError(t, err)
	require.False(t, env.Flags.Has(types.FlagSeen))

	_, err = b.PreviewEmails(ctx, "INBOX", []string{"42"})
	require.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, b.AddFolder(ctx, "Archive"))
	require.NoError(t, b.CopyEmails(ctx, "INBOX", "Archive", []string{"6"}))
	archived, err := b.ListEnvelopes(ctx, "Archive", 0, 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "0000000@localhost/", archived[0].MessageID)

	require.NoError(t, b.PurgeFolder(ctx, "Archive"))
	archived, err = b.ListEnvelopes(ctx, "Archive", 0, 0)
	require.NoError(t, err)
	require.Empty(t, archived)
}

func TestAddEmailRequiresUIDPlus(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.AddEmail(context.Background(), "INBOX", []byte("Subject: x\r\n\r\nbody"), nil)
	require.ErrorIs(t, err, ErrUIDPlusMissing)
}

func TestAddEmailWithUIDPlus(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, imaptest.UIDPlus)

	raw := []byte("Message-ID: <added@example.org>\r\nSubject: Added\r\n\r\nbody")
	id, err := b.AddEmail(ctx, "INBOX", raw, types.NewFlags(types.FlagFlagged, "$Junk"))
	require.NoError(t, err)
	require.Equal(t, "7", id)

	env, err := b.GetEnvelope(ctx, "INBOX", id)
	require.NoError(t, err)
	require.Equal(t, "added@example.org", env.MessageID)
	require.Equal(t, "Added", env.Subject)
	require.Equal(t, "$Junk flagged", env.Flags.String())

	_, err = b.AddEmail(ctx, "Missing", raw, nil)
	require.Error(t, err)
}

func TestNewFailsOnBadCredentials(t *testing.T) {
	srv := imaptest.NewServer(t)
	account := &config.AccountConfig{
		Name:    "remote",
		Backend: config.BackendConfig{IMAP: srv.Config("wrong", 0)},
	}
	_, err := New(context.Background(), account, logrus.New())
	require.ErrorContains(t, err, "failed to login")
}
