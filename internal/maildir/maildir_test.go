package maildir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	b, err := New(t.TempDir(), &config.AccountConfig{Name: "test"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func rawMessage(id, subject, date string) []byte {
	return []byte(fmt.Sprintf("Message-ID: <%s>\r\nFrom: Alice <alice@example.org>\r\nSubject: %s\r\nDate: %s\r\n\r\nHello\r\n", id, subject, date))
}

func TestFolders(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.AddFolder(ctx, "Archive"))
	require.NoError(t, b.AddFolder(ctx, "a/b%c"))

	folders, err := b.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX", "Archive", "a/b%c"}, folders.Names())

	require.DirExists(t, filepath.Join(b.Root(), ".a%2Fb%25c", "cur"))

	require.Error(t, b.DeleteFolder(ctx, "inbox"))
	require.NoError(t, b.DeleteFolder(ctx, "Archive"))
	require.ErrorIs(t, b.DeleteFolder(ctx, "Archive"), backend.ErrNotFound)

	folders, err = b.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX", "a/b%c"}, folders.Names())
}

func TestAddAndListEnvelopes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.AddEmail(ctx, "INBOX", rawMessage("old@x", "Old", "Mon, 01 Jan 2024 10:00:00 +0000"), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)
	newID, err := b.AddEmail(ctx, "INBOX", rawMessage("new@x", "=?utf-8?q?Caf=C3=A9?=", "Tue, 02 Jan 2024 10:00:00 +0000"), nil)
	require.NoError(t, err)

	envs, err := b.ListEnvelopes(ctx, "inbox", 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	require.Equal(t, "new@x", envs[0].MessageID)
	require.Equal(t, "Café", envs[0].Subject)
	require.Equal(t, newID, envs[0].ID)
	require.Equal(t, types.Sender{Name: "Alice", Address: "alice@example.org"}, envs[0].From)

	require.Equal(t, "old@x", envs[1].MessageID)
	require.True(t, envs[1].Flags.Has(types.FlagSeen))

	page, err := b.ListEnvelopes(ctx, "INBOX", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "old@x", page[0].MessageID)

	_, err = b.ListEnvelopes(ctx, "INBOX", 1, 2)
	require.True(t, backend.IsOutOfBounds(err))

	_, err = b.ListEnvelopes(ctx, "Missing", 0, 0)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestFlagsAreEncodedInFileNames(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	internalID, err := b.AddEmailInternal(ctx, "INBOX", rawMessage("a@x", "A", "Mon, 01 Jan 2024 10:00:00 +0000"),
		types.NewFlags(types.FlagSeen, types.FlagFlagged, types.FlagRecent, "Passed"))
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(b.Root(), "cur", internalID+":2,FPS"))

	require.NoError(t, b.AddFlagsInternal(ctx, "INBOX", []string{internalID}, types.NewFlags(types.FlagAnswered)))
	require.NoError(t, b.RemoveFlagsInternal(ctx, "INBOX", []string{internalID}, types.NewFlags(types.FlagFlagged)))
	require.FileExists(t, filepath.Join(b.Root(), "cur", internalID+":2,PRS"))

	require.NoError(t, b.SetFlagsInternal(ctx, "INBOX", []string{internalID}, types.NewFlags(types.FlagDraft)))
	env, err := b.GetEnvelopeInternal(ctx, "INBOX", internalID)
	require.NoError(t, err)
	require.True(t, env.Flags.Equal(types.NewFlags(types.FlagDraft)))
}

func TestKeywordsUseLetterTable(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.AddFolder(ctx, "Archive"))

	flags := types.NewFlags(types.FlagSeen, "$Junk", "work")
	internalID, err := b.AddEmailInternal(ctx, "INBOX", rawMessage("k@x", "K", "Mon, 01 Jan 2024 10:00:00 +0000"), flags)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(b.Root(), "cur", internalID+":2,Sab"))

	table, err := os.ReadFile(filepath.Join(b.Root(), KeywordsFile))
	require.NoError(t, err)
	require.Equal(t, "0 $Junk\n1 work\n", string(table))

	env, err := b.GetEnvelopeInternal(ctx, "INBOX", internalID)
	require.NoError(t, err)
	require.Equal(t, "$Junk seen work", env.Flags.String())

	// Archive numbers its keywords on its own.
	_, err = b.AddEmailInternal(ctx, "Archive", rawMessage("o@x", "O", "Mon, 01 Jan 2024 10:00:00 +0000"), types.NewFlags("work"))
	require.NoError(t, err)
	require.NoError(t, b.MoveEmailsInternal(ctx, "INBOX", "Archive", []string{internalID}))
	require.FileExists(t, filepath.Join(b.folderDir("Archive"), "cur", internalID+":2,Sab"))
	table, err = os.ReadFile(filepath.Join(b.folderDir("Archive"), KeywordsFile))
	require.NoError(t, err)
	require.Equal(t, "0 work\n1 $Junk\n", string(table))

	env, err = b.GetEnvelopeInternal(ctx, "Archive", internalID)
	require.NoError(t, err)
	require.Equal(t, "$Junk seen work", env.Flags.String())

	require.NoError(t, b.RemoveFlagsInternal(ctx, "Archive", []string{internalID}, types.NewFlags("$Junk")))
	env, err = b.GetEnvelopeInternal(ctx, "Archive", internalID)
	require.NoError(t, err)
	require.Equal(t, "seen work", env.Flags.String())
}

func TestKeywordsPastLastLetterAreDropped(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	flags := types.NewFlags()
	for i := 0; i < maxKeywords+1; i++ {
		flags.Add(types.Flag(fmt.Sprintf("k%02d", i)))
	}
	internalID, err := b.AddEmailInternal(ctx, "INBOX", rawMessage("many@x", "Many", "Mon, 01 Jan 2024 10:00:00 +0000"), flags)
	require.NoError(t, err)

	env, err := b.GetEnvelopeInternal(ctx, "INBOX", internalID)
	require.NoError(t, err)
	require.Len(t, env.Flags, maxKeywords)
	require.True(t, env.Flags.Has("k00"))
	require.False(t, env.Flags.Has(types.Flag(fmt.Sprintf("k%02d", maxKeywords))))
}

func TestUnmappedLowercaseLettersStandForThemselves(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	path := filepath.Join(b.Root(), "cur", "1700000000.def.host:2,Sx")
	require.NoError(t, os.WriteFile(path, rawMessage("x@x", "X", "Mon, 01 Jan 2024 10:00:00 +0000"), 0600))

	env, err := b.GetEnvelopeInternal(ctx, "INBOX", "1700000000.def.host")
	require.NoError(t, err)
	require.Equal(t, "seen x", env.Flags.String())
}

func TestMessagesInNewAreListed(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	path := filepath.Join(b.Root(), "new", "1700000000.abc.host")
	require.NoError(t, os.WriteFile(path, rawMessage("n@x", "N", "Mon, 01 Jan 2024 10:00:00 +0000"), 0600))

	envs, err := b.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, "1700000000.abc.host", envs[0].InternalID)
	require.Empty(t, envs[0].Flags)

	require.NoError(t, b.AddFlagsInternal(ctx, "INBOX", []string{envs[0].InternalID}, types.NewFlags(types.FlagSeen)))
	require.NoFileExists(t, path)
	require.FileExists(t, filepath.Join(b.Root(), "cur", "1700000000.abc.host:2,S"))
}

func TestMissingHeadersFallBack(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	internalID, err := b.AddEmailInternal(ctx, "INBOX", []byte("X-Other: 1\r\n\r\nbody"), nil)
	require.NoError(t, err)

	env, err := b.GetEnvelopeInternal(ctx, "INBOX", internalID)
	require.NoError(t, err)
	require.Empty(t, env.MessageID)
	require.True(t, env.Date.IsZero())
	require.Equal(t, "0001-01-01T00:00:00Z", env.CorrelationKey())
}

func TestCopyMoveDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.AddFolder(ctx, "Archive"))

	id, err := b.AddEmail(ctx, "INBOX", rawMessage("m@x", "M", "Mon, 01 Jan 2024 10:00:00 +0000"), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)

	require.NoError(t, b.CopyEmails(ctx, "INBOX", "Archive", []string{id}))
	archived, err := b.ListEnvelopes(ctx, "Archive", 0, 0)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.True(t, archived[0].Flags.Has(types.FlagSeen))

	emails, err := b.PreviewEmails(ctx, "INBOX", []string{id})
	require.NoError(t, err)
	require.Len(t, emails, 1)
	require.Contains(t, string(emails[0].Raw), "Subject: M")

	require.NoError(t, b.DeleteEmails(ctx, "INBOX", []string{id}))
	inbox, err := b.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Empty(t, inbox)

	trash, err := b.ListEnvelopes(ctx, "Trash", 0, 0)
	require.NoError(t, err)
	require.Len(t, trash, 1)

	require.NoError(t, b.DeleteEmails(ctx, "Trash", []string{trash[0].ID}))
	trash, err = b.ListEnvelopes(ctx, "Trash", 0, 0)
	require.NoError(t, err)
	require.True(t, trash[0].Flags.Has(types.FlagDeleted))

	require.NoError(t, b.ExpungeFolder(ctx, "Trash"))
	trash, err = b.ListEnvelopes(ctx, "Trash", 0, 0)
	require.NoError(t, err)
	require.Empty(t, trash)

	require.NoError(t, b.MoveEmails(ctx, "Archive", "INBOX", []string{archived[0].ID}))
	inbox, err = b.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, archived[0].InternalID, inbox[0].InternalID)

	require.NoError(t, b.PurgeFolder(ctx, "INBOX"))
	inbox, err = b.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Empty(t, inbox)
}

func TestGetEmailsMarksSeen(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	id, err := b.AddEmail(ctx, "INBOX", rawMessage("s@x", "S", "Mon, 01 Jan 2024 10:00:00 +0000"), nil)
	require.NoError(t, err)

	_, err = b.GetEmails(ctx, "INBOX", []string{id})
	require.NoError(t, err)

	env, err := b.GetEnvelope(ctx, "INBOX", id)
	require.NoError(t, err)
	require.True(t, env.Flags.Has(types.FlagSeen))

	_, err = b.GetEnvelope(ctx, "INBOX", "zz")
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSearchIsUnsupported(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.SearchEnvelopes(context.Background(), "INBOX", "subject:x", "", 0, 0)
	require.ErrorIs(t, err, backend.ErrUnsupported)
}
