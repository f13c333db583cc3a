// Package account opens the backends of the configured accounts and runs
// their syncs.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bradenaw/juniper/parallel"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/imap"
	"github.com/brandon/mailsync/internal/index"
	"github.com/brandon/mailsync/internal/maildir"
	"github.com/brandon/mailsync/internal/reconcile"
)

// Manager manages the accounts of a configuration
type Manager struct {
	config *config.Config
	logger *logrus.Logger

	disableCache bool
	lockDir      string

	mu       sync.Mutex
	backends map[string]backend.Backend
}

// NewManager creates a new account manager
func NewManager(cfg *config.Config, logger *logrus.Logger) *Manager {
	return &Manager{
		config:   cfg,
		logger:   logger,
		lockDir:  os.TempDir(),
		backends: make(map[string]backend.Backend),
	}
}

// DisableCache makes Backend open the configured store of sync enabled
// accounts instead of their local replica.
func (m *Manager) DisableCache(disable bool) *Manager {
	m.disableCache = disable
	return m
}

// WithLockDir sets the directory of the sync lock files.
func (m *Manager) WithLockDir(dir string) *Manager {
	m.lockDir = dir
	return m
}

// Account returns the named account, or the default one when name is empty.
func (m *Manager) Account(name string) (*config.AccountConfig, error) {
	if name == "" {
		if acc := m.config.GetDefaultAccount(); acc != nil {
			return acc, nil
		}
		return nil, errors.New("no account configured")
	}
	return m.config.GetAccountByName(name)
}

// Backend returns the backend serving the reads of an account. A sync
// enabled account is served from its local replica unless the cache is
// disabled. Backends are opened once and closed by Close.
func (m *Manager) Backend(ctx context.Context, name string) (backend.Backend, error) {
	acc, err := m.Account(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[acc.Name]; ok {
		return b, nil
	}

	var b backend.Backend
	if acc.Sync && !m.disableCache {
		b, err = m.openReplica(acc)
	} else {
		b, err = m.Open(ctx, acc)
	}
	if err != nil {
		return nil, err
	}

	m.backends[acc.Name] = b
	m.logger.WithFields(logrus.Fields{
		"account": acc.Name,
		"backend": b.Name(),
	}).Debug("Opened backend")
	return b, nil
}

func (m *Manager) openReplica(acc *config.AccountConfig) (backend.Backend, error) {
	dir, err := acc.SyncDirPath()
	if err != nil {
		return nil, err
	}
	return maildir.New(dir, acc, m.logger)
}

// Open opens the configured store of an account. The caller closes it.
func (m *Manager) Open(ctx context.Context, acc *config.AccountConfig) (backend.Backend, error) {
	switch bc := acc.Backend; {
	case bc.IMAP != nil:
		return imap.New(ctx, acc, m.logger)
	case bc.Maildir != nil:
		root, err := config.ExpandPath(bc.Maildir.RootDir)
		if err != nil {
			return nil, err
		}
		return maildir.New(root, acc, m.logger)
	case bc.Index != nil:
		path, err := config.ExpandPath(bc.Index.DBPath)
		if err != nil {
			return nil, err
		}
		return index.New(path, acc, m.logger)
	default:
		return nil, fmt.Errorf("account %s has no backend", acc.Name)
	}
}

// SyncOptions configures a sync pass
type SyncOptions struct {
	// Folders restricts the pass, all folders when empty.
	Folders []string
	DryRun  bool
	// Progress must be safe for concurrent use with SyncAll.
	Progress reconcile.ProgressFunc
}

// SyncAccount syncs the configured store of an account with its local
// replica.
func (m *Manager) SyncAccount(ctx context.Context, name string, opts SyncOptions) (*reconcile.Report, error) {
	acc, err := m.Account(name)
	if err != nil {
		return nil, err
	}
	if !acc.Sync {
		return nil, &reconcile.SetupError{Op: "start sync", Account: acc.Name, Err: reconcile.ErrSyncNotEnabled}
	}

	remote, err := m.Open(ctx, acc)
	if err != nil {
		return nil, &reconcile.SetupError{Op: "open remote backend", Account: acc.Name, Err: err}
	}
	defer func() {
		if err := remote.Close(); err != nil {
			m.logger.WithError(err).WithField("account", acc.Name).Warn("Failed to close remote backend")
		}
	}()

	builder := reconcile.NewBuilder(acc, m.logger).
		WithLockDir(m.lockDir).
		DryRun(opts.DryRun).
		OnProgress(opts.Progress)
	if len(opts.Folders) > 0 {
		builder.OnlyFolders(opts.Folders)
	}

	return builder.Sync(ctx, remote)
}

// SyncResult is the outcome of the sync of one account
type SyncResult struct {
	Account string            `json:"account"`
	Report  *reconcile.Report `json:"report,omitempty"`
	Err     error             `json:"-"`
}

func (r SyncResult) MarshalJSON() ([]byte, error) {
	type result SyncResult
	out := struct {
		result
		Error string `json:"error,omitempty"`
	}{result: result(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// SyncAll syncs every sync enabled account concurrently. Results follow the
// configuration order.
func (m *Manager) SyncAll(ctx context.Context, opts SyncOptions) []SyncResult {
	var names []string
	for i := range m.config.Accounts {
		if m.config.Accounts[i].Sync {
			names = append(names, m.config.Accounts[i].Name)
		}
	}

	results := make([]SyncResult, len(names))
	parallel.Do(0, len(names), func(i int) {
		report, err := m.SyncAccount(ctx, names[i], opts)
		if err != nil {
			m.logger.WithError(err).WithField("account", names[i]).Error("Sync failed")
		}
		results[i] = SyncResult{Account: names[i], Report: report, Err: err}
	})
	return results
}

// Close closes every backend opened by Backend
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backend of %s: %w", name, err))
		}
		delete(m.backends, name)
	}
	return errors.Join(errs...)
}
