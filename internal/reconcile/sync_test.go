package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/imap/imaptest"
	"github.com/brandon/mailsync/internal/index"
	"github.com/brandon/mailsync/internal/lock"
	"github.com/brandon/mailsync/internal/maildir"
	"github.com/brandon/mailsync/pkg/types"
)

func message(messageID, subject string) []byte {
	return []byte("From: Alice <alice@example.org>\r\n" +
		"To: bob@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + messageID + ">\r\n" +
		"Date: Fri, 01 Mar 2024 12:00:00 +0000\r\n" +
		"\r\n" +
		"Hello.\r\n")
}

type fixture struct {
	account *config.AccountConfig
	remote  backend.Backend
	lockDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(account *config.AccountConfig) (backend.Backend, error) {
		return maildir.New(t.TempDir(), account, quietLogger())
	})
}

// newIndexFixture syncs against an index remote, which stores keywords
// of any length.
func newIndexFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, func(account *config.AccountConfig) (backend.Backend, error) {
		return index.New(filepath.Join(t.TempDir(), "index.sqlite"), account, quietLogger())
	})
}

// newIMAPFixture syncs against an in-memory IMAP server whose INBOX holds
// one Seen message with UID 6.
func newIMAPFixture(t *testing.T) *fixture {
	t.Helper()
	srv := imaptest.NewServer(t, imaptest.UIDPlus)
	return newFixtureWith(t, func(account *config.AccountConfig) (backend.Backend, error) {
		account.Backend.IMAP = srv.Config("password", 2)
		return imap.New(context.Background(), account, quietLogger())
	})
}

func newFixtureWith(t *testing.T, open func(*config.AccountConfig) (backend.Backend, error)) *fixture {
	t.Helper()

	account := &config.AccountConfig{Name: "test", Sync: true, SyncDir: t.TempDir()}
	remote, err := open(account)
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	return &fixture{account: account, remote: remote, lockDir: t.TempDir()}
}

func (f *fixture) builder() *Builder {
	return NewBuilder(f.account, quietLogger()).WithLockDir(f.lockDir)
}

func (f *fixture) sync(t *testing.T) *Report {
	t.Helper()
	report, err := f.builder().Sync(context.Background(), f.remote)
	require.NoError(t, err)
	require.False(t, report.HasErrors(), "%v", report.Errors())
	return report
}

// local opens the replica; it must be closed before the next sync.
func (f *fixture) local(t *testing.T) *maildir.Backend {
	t.Helper()
	local, err := maildir.New(f.account.SyncDir, f.account, quietLogger())
	require.NoError(t, err)
	return local
}

func (f *fixture) localEnvelopes(t *testing.T, folder string) types.Envelopes {
	t.Helper()
	local := f.local(t)
	defer local.Close()
	envs, err := local.ListEnvelopes(context.Background(), folder, 0, 0)
	require.NoError(t, err)
	return envs
}

func subjects(envs types.Envelopes) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Subject)
	}
	return out
}

func TestSyncFirstPassAndIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.remote.AddEmail(ctx, "INBOX", message("m1@example.org", "Hello"), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)
	require.NoError(t, f.remote.AddFolder(ctx, "Archive"))
	_, err = f.remote.AddEmail(ctx, "Archive", message("m2@example.org", "Old news"), types.NewFlags())
	require.NoError(t, err)

	report := f.sync(t)
	require.Equal(t, []string{"Archive", "INBOX"}, report.Folders)
	require.Len(t, report.FoldersPatch, 1)
	require.Equal(t, "create local folder Archive", report.FoldersPatch[0].Hunk.String())
	require.Len(t, report.EnvelopesPatch, 2)

	inbox := f.localEnvelopes(t, "INBOX")
	require.Len(t, inbox, 1)
	require.Equal(t, "Hello", inbox[0].Subject)
	require.Equal(t, "seen", inbox[0].Flags.String())
	require.Equal(t, []string{"Old news"}, subjects(f.localEnvelopes(t, "Archive")))

	again := f.sync(t)
	require.True(t, again.IsEmpty(), "second pass: %+v", again)
}

func TestSyncKeepsKeywords(t *testing.T) {
	ctx := context.Background()
	f := newIndexFixture(t)

	id, err := f.remote.AddEmail(ctx, "INBOX", message("k1@example.org", "Offer"), types.NewFlags(types.FlagSeen, "$Junk"))
	require.NoError(t, err)

	f.sync(t)
	again := f.sync(t)
	require.True(t, again.IsEmpty(), "second pass: %+v", again)
	require.True(t, f.sync(t).IsEmpty())

	env, err := f.remote.GetEnvelope(ctx, "INBOX", id)
	require.NoError(t, err)
	require.Equal(t, "$Junk seen", env.Flags.String())

	inbox := f.localEnvelopes(t, "INBOX")
	require.Len(t, inbox, 1)
	require.Equal(t, "$Junk seen", inbox[0].Flags.String())

	local := f.local(t)
	require.NoError(t, local.AddFlags(ctx, "INBOX", []string{inbox[0].ID}, types.NewFlags("project")))
	require.NoError(t, local.Close())

	f.sync(t)
	env, err = f.remote.GetEnvelope(ctx, "INBOX", id)
	require.NoError(t, err)
	require.Equal(t, "$Junk project seen", env.Flags.String())
	require.True(t, f.sync(t).IsEmpty())
}

// The replica holds at most 26 keywords per folder. The keyword it cannot
// store must survive on the remote pass after pass.
func TestSyncNeverStripsKeywordsTheReplicaDropped(t *testing.T) {
	ctx := context.Background()
	f := newIndexFixture(t)

	flags := types.NewFlags(types.FlagSeen)
	for i := 0; i < 27; i++ {
		flags.Add(types.Flag(fmt.Sprintf("k%02d", i)))
	}
	id, err := f.remote.AddEmail(ctx, "INBOX", message("k2@example.org", "Tagged"), flags)
	require.NoError(t, err)

	for pass := 0; pass < 3; pass++ {
		report := f.sync(t)
		for _, r := range report.EnvelopesPatch {
			assert.NotEqual(t, Remote, r.Hunk.Side, "pass %d: %s", pass, r.Hunk)
		}

		env, err := f.remote.GetEnvelope(ctx, "INBOX", id)
		require.NoError(t, err)
		require.True(t, env.Flags.Equal(flags), "pass %d: %s", pass, env.Flags)
	}

	inbox := f.localEnvelopes(t, "INBOX")
	require.Len(t, inbox, 1)
	require.Len(t, inbox[0].Flags, 27)
	require.False(t, inbox[0].Flags.Has("k26"))
}

func TestSyncPushesLocalChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.remote.AddEmail(ctx, "INBOX", message("m1@example.org", "Hello"), types.NewFlags())
	require.NoError(t, err)
	f.sync(t)

	local := f.local(t)
	envs, err := local.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.NoError(t, local.AddFlags(ctx, "INBOX", []string{envs[0].ID}, types.NewFlags(types.FlagFlagged)))
	require.NoError(t, local.AddFolder(ctx, "Notes"))
	_, err = local.AddEmail(ctx, "Notes", message("n1@example.org", "Note"), types.NewFlags(types.FlagDraft))
	require.NoError(t, err)
	require.NoError(t, local.Close())

	f.sync(t)

	remoteInbox, err := f.remote.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	require.Len(t, remoteInbox, 1)
	require.Equal(t, "flagged", remoteInbox[0].Flags.String())

	notes, err := f.remote.ListEnvelopes(ctx, "Notes", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Note"}, subjects(notes))
	require.Equal(t, "draft", notes[0].Flags.String())

	require.True(t, f.sync(t).IsEmpty())
}

func TestSyncPropagatesDeletions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.remote.AddEmail(ctx, "INBOX", message("m1@example.org", "Doomed"), types.NewFlags())
	require.NoError(t, err)
	_, err = f.remote.AddEmail(ctx, "INBOX", message("m2@example.org", "Kept"), types.NewFlags())
	require.NoError(t, err)
	require.NoError(t, f.remote.AddFolder(ctx, "Old"))
	f.sync(t)
	require.Len(t, f.localEnvelopes(t, "INBOX"), 2)

	require.NoError(t, f.remote.AddFlags(ctx, "INBOX", []string{id}, types.NewFlags(types.FlagDeleted)))
	require.NoError(t, f.remote.ExpungeFolder(ctx, "INBOX"))
	require.NoError(t, f.remote.DeleteFolder(ctx, "Old"))

	report := f.sync(t)
	require.Equal(t, []string{"INBOX"}, report.Folders)
	require.Equal(t, []string{"Kept"}, subjects(f.localEnvelopes(t, "INBOX")))

	local := f.local(t)
	defer local.Close()
	folders, err := local.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX"}, folders.Names())
}

func TestSyncWithIMAPRemote(t *testing.T) {
	ctx := context.Background()
	f := newIMAPFixture(t)

	f.sync(t)
	inbox := f.localEnvelopes(t, "INBOX")
	require.Equal(t, []string{"A little message, just for you"}, subjects(inbox))
	require.Equal(t, "seen", inbox[0].Flags.String())

	local := f.local(t)
	require.NoError(t, local.AddFlags(ctx, "INBOX", []string{inbox[0].ID}, types.NewFlags(types.FlagFlagged)))
	_, err := local.AddEmail(ctx, "INBOX", message("m1@example.org", "Reply"), types.NewFlags(types.FlagSeen, "$Junk"))
	require.NoError(t, err)
	require.NoError(t, local.Close())

	f.sync(t)
	remoteFlags := func() map[string]string {
		envs, err := f.remote.ListEnvelopes(ctx, "INBOX", 0, 0)
		require.NoError(t, err)
		out := make(map[string]string, len(envs))
		for _, e := range envs {
			out[e.Subject] = e.Flags.String()
		}
		return out
	}
	require.Equal(t, map[string]string{
		"A little message, just for you": "flagged seen",
		"Reply":                          "$Junk seen",
	}, remoteFlags())
	require.True(t, f.sync(t).IsEmpty())

	// Deleted locally, then deleted on the remote.
	local = f.local(t)
	envs, err := local.ListEnvelopes(ctx, "INBOX", 0, 0)
	require.NoError(t, err)
	for _, e := range envs {
		if e.Subject == "Reply" {
			require.NoError(t, local.AddFlags(ctx, "INBOX", []string{e.ID}, types.NewFlags(types.FlagDeleted)))
		}
	}
	require.NoError(t, local.ExpungeFolder(ctx, "INBOX"))
	require.NoError(t, local.Close())

	f.sync(t)
	require.Equal(t, map[string]string{"A little message, just for you": "flagged seen"}, remoteFlags())

	require.NoError(t, f.remote.AddFlags(ctx, "INBOX", []string{"6"}, types.NewFlags(types.FlagDeleted)))
	require.NoError(t, f.remote.ExpungeFolder(ctx, "INBOX"))

	f.sync(t)
	require.Empty(t, f.localEnvelopes(t, "INBOX"))
	require.True(t, f.sync(t).IsEmpty())
}

func TestSyncDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.remote.AddFolder(ctx, "Archive"))
	_, err := f.remote.AddEmail(ctx, "Archive", message("m1@example.org", "Hello"), types.NewFlags())
	require.NoError(t, err)

	report, err := f.builder().DryRun(true).Sync(ctx, f.remote)
	require.NoError(t, err)
	require.True(t, report.DryRun)
	require.False(t, report.HasErrors())
	require.Len(t, report.EnvelopesPatch, 1)
	require.Contains(t, report.EnvelopesPatch[0].Hunk.String(), "copy remote envelope")

	local := f.local(t)
	folders, err := local.ListFolders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INBOX"}, folders.Names())
	require.NoError(t, local.Close())

	applied := f.sync(t)
	require.Equal(t, report.FoldersPatch, applied.FoldersPatch)
	require.Equal(t, []string{"Hello"}, subjects(f.localEnvelopes(t, "Archive")))
}

func TestSyncOnlyFolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.remote.AddFolder(ctx, "Archive"))
	_, err := f.remote.AddEmail(ctx, "INBOX", message("m1@example.org", "Hello"), types.NewFlags())
	require.NoError(t, err)

	report, err := f.builder().OnlyFolder("Archive").Sync(ctx, f.remote)
	require.NoError(t, err)
	require.Equal(t, []string{"Archive"}, report.Folders)
	require.Empty(t, report.EnvelopesPatch)
	require.Empty(t, f.localEnvelopes(t, "INBOX"))
}

func TestSyncProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.remote.AddFolder(ctx, "Archive"))

	var kinds []EventKind
	var starts []Event
	_, err := f.builder().OnProgress(func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == StartEnvelopesSync {
			starts = append(starts, ev)
		}
		return nil
	}).Sync(ctx, f.remote)
	require.NoError(t, err)

	require.Equal(t, []EventKind{
		GetLocalCachedFolders,
		GetLocalFolders,
		GetRemoteCachedFolders,
		GetRemoteFolders,
		BuildFoldersPatch,
		ProcessFoldersPatch,
	}, kinds[:6])
	require.Len(t, starts, 2)
	assert.Equal(t, "Synchronizing envelopes of folder Archive (1/2)", starts[0].String())
	assert.Equal(t, "Synchronizing envelopes of folder INBOX (2/2)", starts[1].String())
}

func TestSyncProgressAbortRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.remote.AddFolder(ctx, "Archive"))

	stop := errors.New("stop")
	_, err := f.builder().OnProgress(func(ev Event) error {
		if ev.Kind == StartEnvelopesSync {
			return stop
		}
		return nil
	}).Sync(ctx, f.remote)

	var progressErr *ProgressError
	require.ErrorAs(t, err, &progressErr)
	require.ErrorIs(t, err, stop)

	// The folder was created but the cache never recorded it.
	report := f.sync(t)
	require.Empty(t, report.FoldersPatch)
	require.NotEmpty(t, report.FoldersCachePatch)
}

func TestSyncSetupErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not enabled", func(t *testing.T) {
		f := newFixture(t)
		f.account.Sync = false

		_, err := f.builder().Sync(ctx, f.remote)
		var setupErr *SetupError
		require.ErrorAs(t, err, &setupErr)
		require.ErrorIs(t, err, ErrSyncNotEnabled)
		require.Equal(t, "test", setupErr.Account)
	})

	t.Run("locked", func(t *testing.T) {
		f := newFixture(t)
		guard, err := lock.Acquire(f.lockDir, f.account.Name)
		require.NoError(t, err)
		defer guard.Release()

		_, err = f.builder().Sync(ctx, f.remote)
		require.ErrorIs(t, err, lock.ErrLocked)
	})
}

func TestReportJSON(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.remote.AddEmail(ctx, "INBOX", message("m1@example.org", "Hello"), types.NewFlags(types.FlagSeen))
	require.NoError(t, err)

	report := f.sync(t)
	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "test", decoded["account"])
	assert.Equal(t, []any{"INBOX"}, decoded["folders"])
	assert.NotContains(t, decoded, "commit_error")

	patch := decoded["envelopes_patch"].([]any)
	require.Len(t, patch, 1)
	hunk := patch[0].(map[string]any)["hunk"].(map[string]any)
	assert.Equal(t, "copy", hunk["kind"])
	assert.Equal(t, "remote", hunk["source"])
	assert.Equal(t, []any{"seen"}, hunk["flags"])
}
