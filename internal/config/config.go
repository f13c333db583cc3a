package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/brandon/mailsync/internal/credential"
	"github.com/brandon/mailsync/pkg/types"
)

// Folder alias keys
const (
	AliasInbox  = "inbox"
	AliasTrash  = "trash"
	AliasDrafts = "drafts"
	AliasSent   = "sent"
)

// IMAP security modes
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Config holds the application configuration
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// SessionsPoolSize is the default IMAP pool size of accounts that do not set one
	SessionsPoolSize int `mapstructure:"sessions_pool_size"`

	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name    string `mapstructure:"name"`
	Default bool   `mapstructure:"default"`

	// Sync enables the local replica of the account
	Sync    bool   `mapstructure:"sync"`
	SyncDir string `mapstructure:"sync_dir"`

	// FolderAliases maps inbox, trash, drafts and sent to backend folder names
	FolderAliases map[string]string `mapstructure:"folder_aliases"`

	Backend BackendConfig `mapstructure:"backend"`
}

// BackendConfig selects the store of an account. Exactly one must be set.
type BackendConfig struct {
	IMAP    *IMAPConfig    `mapstructure:"imap"`
	Maildir *MaildirConfig `mapstructure:"maildir"`
	Index   *IndexConfig   `mapstructure:"index"`
}

// IMAPConfig holds the settings of a remote IMAP store
type IMAPConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Login              string `mapstructure:"login"`
	Password           string `mapstructure:"password"`
	PasswordEnv        string `mapstructure:"password_env"`
	PasswordKeyring    string `mapstructure:"password_keyring"`
	Security           string `mapstructure:"security"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	PoolSize           int    `mapstructure:"pool_size"`
}

// MaildirConfig holds the settings of a Maildir store
type MaildirConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// IndexConfig holds the settings of a search-index store
type IndexConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// DefaultConfigPath returns ~/.config/mailsync/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// LoadConfig reads the YAML configuration at path. Global keys can be
// overridden with MAILSYNC_ prefixed environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("sessions_pool_size", 1)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		if imap := c.Accounts[i].Backend.IMAP; imap != nil {
			if imap.Port == 0 {
				imap.Port = 993
			}
			if imap.Security == "" {
				imap.Security = SecurityTLS
			}
			if imap.PoolSize == 0 {
				imap.PoolSize = c.SessionsPoolSize
			}
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true

		if err := acc.Backend.validate(); err != nil {
			return fmt.Errorf("account %s: %w", acc.Name, err)
		}
	}

	return nil
}

func (b *BackendConfig) validate() error {
	set := 0
	if b.IMAP != nil {
		set++
		if b.IMAP.Host == "" {
			return fmt.Errorf("imap host is required")
		}
		if b.IMAP.Login == "" {
			return fmt.Errorf("imap login is required")
		}
		if b.IMAP.Port < 1 || b.IMAP.Port > 65535 {
			return fmt.Errorf("invalid imap port %d", b.IMAP.Port)
		}
		switch b.IMAP.Security {
		case SecurityTLS, SecurityStartTLS, SecurityNone:
		default:
			return fmt.Errorf("invalid imap security %q", b.IMAP.Security)
		}
	}
	if b.Maildir != nil {
		set++
		if b.Maildir.RootDir == "" {
			return fmt.Errorf("maildir root_dir is required")
		}
	}
	if b.Index != nil {
		set++
		if b.Index.DBPath == "" {
			return fmt.Errorf("index db_path is required")
		}
	}

	if set != 1 {
		return fmt.Errorf("exactly one backend must be configured, got %d", set)
	}
	return nil
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the account flagged default, else the first one
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Default {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

// SyncDirPath returns the directory of the local replica, expanding a
// leading ~ and defaulting to ~/.local/share/mailsync/<account>.
func (a *AccountConfig) SyncDirPath() (string, error) {
	if a.SyncDir != "" {
		return expandHome(a.SyncDir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find sync directory of %s: %w", a.Name, err)
	}
	return filepath.Join(home, ".local", "share", "mailsync", a.Name), nil
}

// FolderAlias resolves a user supplied folder name through the aliases.
func (a *AccountConfig) FolderAlias(folder string) string {
	key := strings.ToLower(strings.TrimSpace(folder))
	if alias, ok := a.FolderAliases[key]; ok && alias != "" {
		return types.NormalizeFolder(alias)
	}
	if key == AliasInbox {
		return types.InboxFolder
	}
	return types.NormalizeFolder(folder)
}

// TrashFolder returns the folder deleted messages are moved to
func (a *AccountConfig) TrashFolder() string {
	if alias, ok := a.FolderAliases[AliasTrash]; ok && alias != "" {
		return alias
	}
	return "Trash"
}

// IsTrash reports whether folder resolves to the trash folder
func (a *AccountConfig) IsTrash(folder string) bool {
	return a.FolderAlias(folder) == a.TrashFolder()
}

// Addr returns host:port
func (c *IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResolvePassword returns the literal password, else the one in the named
// environment variable, else the one stored in the keyring.
func (c *IMAPConfig) ResolvePassword() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if c.PasswordEnv != "" {
		if v := os.Getenv(c.PasswordEnv); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("environment variable %s is empty", c.PasswordEnv)
	}
	if c.PasswordKeyring != "" {
		return credential.Get(c.PasswordKeyring)
	}
	return "", fmt.Errorf("no password configured for %s", c.Login)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ExpandPath expands a leading ~ in path
func ExpandPath(path string) (string, error) {
	return expandHome(path)
}
