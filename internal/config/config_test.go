package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
sessions_pool_size: 3
accounts:
  - name: work
    default: true
    sync: true
    sync_dir: /var/mail/work
    folder_aliases:
      trash: Deleted Items
      sent: Sent Items
    backend:
      imap:
        host: imap.example.org
        login: me@example.org
        password_env: WORK_IMAP_PASSWORD
  - name: archive
    backend:
      maildir:
        root_dir: /var/mail/archive
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, []string{"work", "archive"}, cfg.AccountNames())

	work, err := cfg.GetAccountByName("work")
	require.NoError(t, err)
	require.True(t, work.Sync)
	require.Equal(t, 993, work.Backend.IMAP.Port)
	require.Equal(t, SecurityTLS, work.Backend.IMAP.Security)
	require.Equal(t, 3, work.Backend.IMAP.PoolSize)
	require.Equal(t, "imap.example.org:993", work.Backend.IMAP.Addr())

	dir, err := work.SyncDirPath()
	require.NoError(t, err)
	require.Equal(t, "/var/mail/work", dir)

	require.Equal(t, "work", cfg.GetDefaultAccount().Name)

	_, err = cfg.GetAccountByName("nope")
	require.Error(t, err)
}

func TestFolderAliases(t *testing.T) {
	acc := &AccountConfig{FolderAliases: map[string]string{"trash": "Deleted Items"}}

	require.Equal(t, "INBOX", acc.FolderAlias("inbox"))
	require.Equal(t, "INBOX", acc.FolderAlias("Inbox"))
	require.Equal(t, "Deleted Items", acc.FolderAlias("trash"))
	require.Equal(t, "Archive", acc.FolderAlias("Archive"))
	require.Equal(t, "Deleted Items", acc.TrashFolder())
	require.True(t, acc.IsTrash("Deleted Items"))
	require.True(t, acc.IsTrash("TRASH"))

	require.Equal(t, "Trash", (&AccountConfig{}).TrashFolder())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Accounts = []AccountConfig{{Name: "a"}}
	require.ErrorContains(t, cfg.Validate(), "exactly one backend")

	cfg.Accounts = []AccountConfig{{
		Name: "a",
		Backend: BackendConfig{
			Maildir: &MaildirConfig{RootDir: "/m"},
			Index:   &IndexConfig{DBPath: "/i.db"},
		},
	}}
	require.Error(t, cfg.Validate())

	cfg.Accounts = []AccountConfig{
		{Name: "a", Backend: BackendConfig{Maildir: &MaildirConfig{RootDir: "/m"}}},
		{Name: "a", Backend: BackendConfig{Maildir: &MaildirConfig{RootDir: "/n"}}},
	}
	require.ErrorContains(t, cfg.Validate(), "duplicate")

	cfg.Accounts = []AccountConfig{{
		Name:    "a",
		Backend: BackendConfig{IMAP: &IMAPConfig{Host: "h", Login: "l", Port: 0, Security: SecurityTLS}},
	}}
	require.ErrorContains(t, cfg.Validate(), "invalid imap port")
}

func TestResolvePassword(t *testing.T) {
	t.Setenv("MAILSYNC_TEST_PASSWORD", "s3cret")

	c := &IMAPConfig{PasswordEnv: "MAILSYNC_TEST_PASSWORD", Login: "me"}
	got, err := c.ResolvePassword()
	require.NoError(t, err)
	require.Equal(t, "s3cret", got)

	c = &IMAPConfig{Password: "literal", PasswordEnv: "MAILSYNC_TEST_PASSWORD"}
	got, err = c.ResolvePassword()
	require.NoError(t, err)
	require.Equal(t, "literal", got)

	_, err = (&IMAPConfig{Login: "me"}).ResolvePassword()
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
