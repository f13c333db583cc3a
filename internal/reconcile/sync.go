package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/lock"
	"github.com/brandon/mailsync/internal/maildir"
	"github.com/brandon/mailsync/pkg/types"
)

// CacheFile is the cache database kept at the root of the sync directory.
const CacheFile = ".sync.sqlite"

// Builder configures and runs the sync pass of one account. The local side
// is the Maildir replica in the account sync directory.
type Builder struct {
	account  *config.AccountConfig
	logger   *logrus.Logger
	folders  []string
	dryRun   bool
	progress ProgressFunc
	lockDir  string
}

// NewBuilder returns a builder syncing every folder of account.
func NewBuilder(account *config.AccountConfig, logger *logrus.Logger) *Builder {
	return &Builder{
		account: account,
		logger:  logger,
		lockDir: os.TempDir(),
	}
}

// AllFolders removes any folder restriction.
func (b *Builder) AllFolders() *Builder {
	b.folders = nil
	return b
}

// OnlyFolder restricts the pass to one folder.
func (b *Builder) OnlyFolder(folder string) *Builder {
	return b.OnlyFolders([]string{folder})
}

// OnlyFolders restricts the pass to folders. An empty list syncs nothing.
func (b *Builder) OnlyFolders(folders []string) *Builder {
	b.folders = make([]string, 0, len(folders))
	for _, f := range folders {
		b.folders = append(b.folders, b.account.FolderAlias(f))
	}
	return b
}

// DryRun computes the patches without applying them. The cache is left
// untouched.
func (b *Builder) DryRun(dryRun bool) *Builder {
	b.dryRun = dryRun
	return b
}

// OnProgress sets the progress callback.
func (b *Builder) OnProgress(fn ProgressFunc) *Builder {
	b.progress = fn
	return b
}

// WithLockDir sets the directory of the lock file, os.TempDir by default.
func (b *Builder) WithLockDir(dir string) *Builder {
	b.lockDir = dir
	return b
}

// Sync reconciles remote with the local replica. Folders are reconciled
// first, then the envelopes of every folder kept on both sides. Failures
// of single hunks are recorded in the report. Only setup failures and
// progress callback errors are returned, and nothing of such a pass is
// written to the cache.
func (b *Builder) Sync(ctx context.Context, remote backend.Backend) (*Report, error) {
	name := b.account.Name
	setupErr := func(op string, err error) error {
		return &SetupError{Op: op, Account: name, Err: err}
	}

	if !b.account.Sync {
		return nil, setupErr("start sync", ErrSyncNotEnabled)
	}

	syncDir, err := b.account.SyncDirPath()
	if err != nil {
		return nil, setupErr("resolve sync directory", err)
	}

	guard, err := lock.Acquire(b.lockDir, name)
	if err != nil {
		return nil, setupErr("acquire lock", err)
	}
	defer func() {
		if err := guard.Release(); err != nil {
			b.logger.WithError(err).WithField("account", name).Warn("Failed to release sync lock")
		}
	}()

	db, err := cache.NewCache(filepath.Join(syncDir, CacheFile), b.logger)
	if err != nil {
		return nil, setupErr("open cache", err)
	}
	defer db.Close()

	local, err := maildir.New(syncDir, b.account, b.logger)
	if err != nil {
		return nil, setupErr("open local replica", err)
	}
	defer local.Close()

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, setupErr("begin cache transaction", err)
	}

	p := &pass{
		Builder: b,
		ctx:     ctx,
		tx:      tx,
		local:   local,
		remote:  remote,
		log:     b.logger.WithField("account", name),
		report: &Report{
			Account: name,
			DryRun:  b.dryRun,
			Folders: []string{},
		},
	}

	p.log.WithFields(logrus.Fields{
		"remote":  remote.Name(),
		"dry_run": b.dryRun,
	}).Info("Starting sync")

	if err := p.run(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.log.WithError(rbErr).Warn("Failed to roll back cache")
		}
		var progressErr *ProgressError
		if errors.As(err, &progressErr) {
			return nil, err
		}
		return nil, setupErr("snapshot folders", err)
	}

	if b.dryRun {
		if err := tx.Rollback(); err != nil {
			p.log.WithError(err).Warn("Failed to roll back cache")
		}
	} else if err := tx.Commit(); err != nil {
		p.report.CommitErr = err
	}

	p.log.WithFields(logrus.Fields{
		"folders":    len(p.report.Folders),
		"hunks":      len(p.report.FoldersPatch) + len(p.report.EnvelopesPatch),
		"has_errors": p.report.HasErrors(),
	}).Info("Sync finished")
	return p.report, nil
}

// pass is the state of one running sync.
type pass struct {
	*Builder

	ctx    context.Context
	tx     *cache.Tx
	local  backend.Backend
	remote backend.Backend
	log    *logrus.Entry
	report *Report

	// pending holds the folders a dry run would have created, per side.
	pending map[Side]map[string]bool
}

func (p *pass) emit(ev Event) error {
	p.log.WithField("event", ev.Kind).Debug(ev.String())
	if p.progress == nil {
		return nil
	}
	if err := p.progress(ev); err != nil {
		return &ProgressError{Err: err}
	}
	return nil
}

func (p *pass) backend(side Side) backend.Backend {
	if side == Local {
		return p.local
	}
	return p.remote
}

func (p *pass) run() error {
	folders, err := p.syncFolders()
	if err != nil {
		return err
	}
	p.report.Folders = folders

	for i, folder := range folders {
		if err := p.syncEnvelopes(folder, i+1, len(folders)); err != nil {
			return err
		}
	}
	return nil
}

// syncFolders reconciles the folders and returns those whose envelopes are
// synced next. Snapshot failures abort the pass.
func (p *pass) syncFolders() ([]string, error) {
	account := p.account.Name

	if err := p.emit(Event{Kind: GetLocalCachedFolders}); err != nil {
		return nil, err
	}
	localCache, err := p.tx.ListLocalFolders(p.ctx, account, p.folders)
	if err != nil {
		return nil, fmt.Errorf("failed to list local cached folders: %w", err)
	}

	if err := p.emit(Event{Kind: GetLocalFolders}); err != nil {
		return nil, err
	}
	local, err := p.liveFolders(p.local)
	if err != nil {
		return nil, fmt.Errorf("failed to list local folders: %w", err)
	}

	if err := p.emit(Event{Kind: GetRemoteCachedFolders}); err != nil {
		return nil, err
	}
	remoteCache, err := p.tx.ListRemoteFolders(p.ctx, account, p.folders)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote cached folders: %w", err)
	}

	if err := p.emit(Event{Kind: GetRemoteFolders}); err != nil {
		return nil, err
	}
	remote, err := p.liveFolders(p.remote)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote folders: %w", err)
	}

	if err := p.emit(Event{Kind: BuildFoldersPatch}); err != nil {
		return nil, err
	}
	patch := DiffFolders(localCache, local, remoteCache, remote)

	if err := p.emit(Event{Kind: ProcessFoldersPatch, Count: len(patch.Hunks) + len(patch.CacheHunks)}); err != nil {
		return nil, err
	}

	p.pending = map[Side]map[string]bool{Local: {}, Remote: {}}
	failed := make(map[string]bool)
	for _, h := range patch.Hunks {
		if err := p.emit(Event{Kind: ProcessFolderHunk, Hunk: h.String()}); err != nil {
			return nil, err
		}
		var err error
		if p.dryRun {
			if h.Kind == KindCreate {
				p.pending[h.Side][h.Folder] = true
			}
		} else {
			err = p.applyFolderHunk(h)
		}
		if err != nil {
			failed[h.Folder] = true
			p.log.WithError(err).WithField("hunk", h.String()).Warn("Folder hunk failed")
		}
		p.report.FoldersPatch = append(p.report.FoldersPatch, Result[FolderHunk]{Hunk: h, Err: err})
	}

	for _, h := range patch.CacheHunks {
		if failed[h.Folder] {
			p.log.WithField("hunk", h.String()).Debug("Skipping cache hunk of failed folder")
			continue
		}
		if err := p.emit(Event{Kind: ProcessFolderHunk, Hunk: h.String()}); err != nil {
			return nil, err
		}
		var err error
		if !p.dryRun {
			err = p.applyFolderCacheHunk(h)
		}
		p.report.FoldersCachePatch = append(p.report.FoldersCachePatch, Result[FolderCacheHunk]{Hunk: h, Err: err})
	}

	kept := make([]string, 0, len(patch.Folders))
	for _, f := range patch.Folders {
		if !failed[f] {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// liveFolders lists the folder names of b, restricted to the builder folders.
func (p *pass) liveFolders(b backend.Backend) ([]string, error) {
	folders, err := b.ListFolders(p.ctx)
	if err != nil {
		return nil, err
	}

	var only map[string]struct{}
	if p.folders != nil {
		only = toSet(p.folders)
	}

	names := make([]string, 0, len(folders))
	for _, name := range folders.Names() {
		name = types.NormalizeFolder(name)
		if only != nil {
			if _, ok := only[name]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	return names, nil
}

func (p *pass) applyFolderHunk(h FolderHunk) error {
	b := p.backend(h.Side)
	switch h.Kind {
	case KindCreate:
		return b.AddFolder(p.ctx, h.Folder)
	case KindDelete:
		return b.DeleteFolder(p.ctx, h.Folder)
	default:
		return fmt.Errorf("unexpected folder hunk %s", h.Kind)
	}
}

func (p *pass) applyFolderCacheHunk(h FolderCacheHunk) error {
	account := p.account.Name
	switch {
	case h.Kind == CacheInsert && h.Side == Local:
		return p.tx.InsertLocalFolder(p.ctx, account, h.Folder)
	case h.Kind == CacheInsert:
		return p.tx.InsertRemoteFolder(p.ctx, account, h.Folder)
	case h.Side == Local:
		return p.tx.DeleteLocalFolder(p.ctx, account, h.Folder)
	default:
		return p.tx.DeleteRemoteFolder(p.ctx, account, h.Folder)
	}
}

// syncEnvelopes reconciles the envelopes of one folder. Failures are
// recorded in the report; only progress callback errors are returned.
func (p *pass) syncEnvelopes(folder string, index, total int) error {
	account := p.account.Name
	folderErr := func(op string, err error) {
		p.log.WithError(err).WithFields(logrus.Fields{"folder": folder, "op": op}).Warn("Folder sync failed")
		p.report.FolderErrors = append(p.report.FolderErrors, FolderError{Folder: folder, Op: op, Err: err})
	}

	if err := p.emit(Event{Kind: StartEnvelopesSync, Folder: folder, Index: index, Total: total}); err != nil {
		return err
	}

	var (
		snap EnvelopeSnapshots
		err  error
	)

	if err := p.emit(Event{Kind: GetLocalCachedEnvelopes, Folder: folder}); err != nil {
		return err
	}
	if snap.LocalCache, err = p.tx.ListLocalEnvelopes(p.ctx, account, folder); err != nil {
		folderErr("list local cached envelopes", err)
		return nil
	}

	if err := p.emit(Event{Kind: GetLocalEnvelopes, Folder: folder}); err != nil {
		return err
	}
	if snap.Local, err = p.liveEnvelopes(Local, folder); err != nil {
		folderErr("list local envelopes", err)
		return nil
	}

	if err := p.emit(Event{Kind: GetRemoteCachedEnvelopes, Folder: folder}); err != nil {
		return err
	}
	if snap.RemoteCache, err = p.tx.ListRemoteEnvelopes(p.ctx, account, folder); err != nil {
		folderErr("list remote cached envelopes", err)
		return nil
	}

	if err := p.emit(Event{Kind: GetRemoteEnvelopes, Folder: folder}); err != nil {
		return err
	}
	if snap.Remote, err = p.liveEnvelopes(Remote, folder); err != nil {
		folderErr("list remote envelopes", err)
		return nil
	}

	if err := p.emit(Event{Kind: BuildEnvelopesPatch, Folder: folder}); err != nil {
		return err
	}
	patch := DiffEnvelopes(folder, snap, p.logger)

	if err := p.emit(Event{Kind: ProcessEnvelopesPatch, Folder: folder, Count: len(patch.Hunks) + len(patch.CacheHunks)}); err != nil {
		return err
	}

	failed := make(map[string]bool)
	stored := make(map[sideKey]types.Flags)
	var cacheHunks []EnvelopeCacheHunk
	for _, h := range patch.Hunks {
		if err := p.emit(Event{Kind: ProcessEnvelopeHunk, Folder: folder, Hunk: h.String()}); err != nil {
			return err
		}
		var err error
		switch h.Kind {
		case KindCopy:
			var rows []EnvelopeCacheHunk
			rows, err = p.copyEnvelope(h)
			cacheHunks = append(cacheHunks, rows...)
		case KindDelete:
			if !p.dryRun {
				err = backend.MarkEmailsAsDeletedInternal(p.ctx, p.backend(h.Side), folder, []string{h.Envelope.InternalID})
			}
		case KindSetFlags:
			if !p.dryRun {
				var kept types.Flags
				if kept, err = p.setFlags(h); err == nil {
					stored[sideKey{h.Side, h.key}] = kept
				}
			}
		default:
			err = fmt.Errorf("unexpected envelope hunk %s", h.Kind)
		}
		if err != nil {
			failed[h.key] = true
			p.log.WithError(err).WithField("hunk", h.String()).Warn("Envelope hunk failed")
		}
		p.report.EnvelopesPatch = append(p.report.EnvelopesPatch, Result[EnvelopeHunk]{Hunk: h, Err: err})
	}

	cacheHunks = append(cacheHunks, patch.CacheHunks...)
	for _, h := range cacheHunks {
		if failed[h.key] {
			p.log.WithField("hunk", h.String()).Debug("Skipping cache hunk of failed envelope")
			continue
		}
		if kept, ok := stored[sideKey{h.Side, h.key}]; ok && h.Kind == CacheInsert {
			h.Envelope.Flags = kept
		}
		if err := p.emit(Event{Kind: ProcessEnvelopeHunk, Folder: folder, Hunk: h.String()}); err != nil {
			return err
		}
		var err error
		if !p.dryRun {
			err = p.applyEnvelopeCacheHunk(h)
		}
		p.report.EnvelopesCachePatch = append(p.report.EnvelopesCachePatch, Result[EnvelopeCacheHunk]{Hunk: h, Err: err})
	}

	if p.dryRun {
		return nil
	}
	if err := p.local.ExpungeFolder(p.ctx, folder); err != nil {
		folderErr("expunge local", err)
	}
	if err := p.remote.ExpungeFolder(p.ctx, folder); err != nil {
		folderErr("expunge remote", err)
	}
	return nil
}

// liveEnvelopes lists every envelope of folder on side. A folder that a dry
// run has yet to create is empty.
func (p *pass) liveEnvelopes(side Side, folder string) (types.Envelopes, error) {
	if p.pending[side][folder] {
		return types.Envelopes{}, nil
	}
	return p.backend(side).ListEnvelopes(p.ctx, folder, 0, 0)
}

// sideKey identifies an envelope of one side within a folder.
type sideKey struct {
	side Side
	key  string
}

// setFlags replaces the flags of the envelope of h and returns the flags the
// backend kept, which lack any keyword it cannot store.
func (p *pass) setFlags(h EnvelopeHunk) (types.Flags, error) {
	b := p.backend(h.Side)
	if err := backend.SetFlagsInternal(p.ctx, b, h.Folder, []string{h.Envelope.InternalID}, h.Flags); err != nil {
		return nil, err
	}
	env, err := backend.GetEnvelopeInternal(p.ctx, b, h.Folder, h.Envelope.InternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s envelope %s: %w", h.Side, h.Envelope.InternalID, err)
	}
	return env.Flags.Without(types.FlagRecent), nil
}

// copyEnvelope copies the message of h and returns the cache rows recording
// it on both sides. Both rows carry the correlation key of h so the next
// pass matches them whatever the target reports as Message-ID. The target
// row records the flags the target kept.
func (p *pass) copyEnvelope(h EnvelopeHunk) ([]EnvelopeCacheHunk, error) {
	rows := func(copied types.Envelope) []EnvelopeCacheHunk {
		copied.MessageID = h.key
		hunks := []EnvelopeCacheHunk{{Kind: CacheInsert, Folder: h.Folder, Side: h.Side, Envelope: copied, key: h.key}}
		if h.RefreshSourceCache {
			source := h.Envelope
			source.MessageID = h.key
			source.Flags = h.Flags.Clone()
			hunks = append(hunks, EnvelopeCacheHunk{Kind: CacheInsert, Folder: h.Folder, Side: h.Source, Envelope: source, key: h.key})
		}
		return hunks
	}

	if p.dryRun {
		planned := h.Envelope
		planned.Flags = h.Flags.Clone()
		return rows(planned), nil
	}

	source, target := p.backend(h.Source), p.backend(h.Side)
	emails, err := backend.PreviewEmailsInternal(p.ctx, source, h.Folder, []string{h.Envelope.InternalID})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s message: %w", h.Source, err)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("failed to read %s message %s: %w", h.Source, h.Envelope.InternalID, backend.ErrNotFound)
	}

	id, err := backend.AddEmailInternal(p.ctx, target, h.Folder, emails[0].Raw, h.Flags)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s message: %w", h.Side, err)
	}

	copied, err := backend.GetEnvelopeInternal(p.ctx, target, h.Folder, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s envelope %s: %w", h.Side, id, err)
	}
	kept := *copied
	kept.Flags = copied.Flags.Without(types.FlagRecent)
	return rows(kept), nil
}

func (p *pass) applyEnvelopeCacheHunk(h EnvelopeCacheHunk) error {
	account := p.account.Name
	switch {
	case h.Kind == CacheInsert && h.Side == Local:
		return p.tx.InsertLocalEnvelope(p.ctx, account, h.Folder, &h.Envelope)
	case h.Kind == CacheInsert:
		return p.tx.InsertRemoteEnvelope(p.ctx, account, h.Folder, &h.Envelope)
	case h.Side == Local:
		return p.tx.DeleteLocalEnvelope(p.ctx, account, h.Folder, h.Envelope.InternalID)
	default:
		return p.tx.DeleteRemoteEnvelope(p.ctx, account, h.Folder, h.Envelope.InternalID)
	}
}
