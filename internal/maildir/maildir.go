// Package maildir implements a backend over a Maildir++ tree. The inbox is
// the root directory and every other folder a dot-prefixed subdirectory.
package maildir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/idmapper"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	// IDsFile is the id mapper database kept at the root of the tree.
	IDsFile = ".mailsync-ids.sqlite"

	// Delimiter separates the levels of a folder name.
	Delimiter = "."

	pathCacheSize = 4096
)

var subdirs = []string{"cur", "new", "tmp"}

var folderEscaper = strings.NewReplacer("%", "%25", "/", "%2F")
var folderUnescaper = strings.NewReplacer("%2F", "/", "%25", "%")

// Backend is a Maildir++ store.
type Backend struct {
	root     string
	account  *config.AccountConfig
	ids      *idmapper.Store
	paths    *lru.Cache[string, string]
	hostname string
	logger   *logrus.Logger

	// kwMu serializes updates of the keywords files.
	kwMu sync.Mutex
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.InternalBackend = (*Backend)(nil)

// New opens the tree at root, creating the inbox when missing.
func New(root string, account *config.AccountConfig, logger *logrus.Logger) (*Backend, error) {
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0700); err != nil {
			return nil, fmt.Errorf("failed to create maildir %s: %w", root, err)
		}
	}

	ids, err := idmapper.Open(filepath.Join(root, IDsFile), logger)
	if err != nil {
		return nil, err
	}

	paths, err := lru.New[string, string](pathCacheSize)
	if err != nil {
		ids.Close()
		return nil, fmt.Errorf("failed to create path cache: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	hostname = strings.NewReplacer("/", `\057`, ":", `\072`).Replace(hostname)

	if account == nil {
		account = &config.AccountConfig{}
	}

	return &Backend{
		root:     root,
		account:  account,
		ids:      ids,
		paths:    paths,
		hostname: hostname,
		logger:   logger,
	}, nil
}

func (b *Backend) Name() string {
	return "maildir"
}

// Root returns the directory of the inbox.
func (b *Backend) Root() string {
	return b.root
}

func (b *Backend) Close() error {
	return b.ids.Close()
}

func (b *Backend) folderDir(folder string) string {
	folder = types.NormalizeFolder(folder)
	if folder == types.InboxFolder {
		return b.root
	}
	return filepath.Join(b.root, Delimiter+folderEscaper.Replace(folder))
}

// existingDir returns the directory of folder or ErrNotFound.
func (b *Backend) existingDir(folder string) (string, error) {
	dir := b.folderDir(folder)
	info, err := os.Stat(filepath.Join(dir, "cur"))
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("folder %s: %w", folder, backend.ErrNotFound)
	}
	return dir, nil
}

func (b *Backend) mapper(folder string) *idmapper.Mapper {
	return b.ids.Mapper(types.NormalizeFolder(folder))
}

func (b *Backend) AddFolder(ctx context.Context, folder string) error {
	dir := b.folderDir(folder)
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
	}
	b.logger.WithField("folder", folder).Debug("Created maildir folder")
	return nil
}

func (b *Backend) ListFolders(ctx context.Context) (types.Folders, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := types.Folders{{Name: types.InboxFolder, Delim: Delimiter}}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, Delimiter) || name == "." || name == ".." {
			continue
		}
		if info, err := os.Stat(filepath.Join(b.root, name, "cur")); err != nil || !info.IsDir() {
			continue
		}
		names = append(names, folderUnescaper.Replace(strings.TrimPrefix(name, Delimiter)))
	}
	sort.Strings(names)

	for _, name := range names {
		folders = append(folders, types.Folder{Name: name, Delim: Delimiter})
	}
	return folders, nil
}

func (b *Backend) ExpungeFolder(ctx context.Context, folder string) error {
	return b.removeMessages(ctx, folder, func(letters string) bool {
		return strings.ContainsRune(letters, 'T')
	})
}

func (b *Backend) PurgeFolder(ctx context.Context, folder string) error {
	return b.removeMessages(ctx, folder, func(string) bool { return true })
}

func (b *Backend) removeMessages(ctx context.Context, folder string, match func(letters string) bool) error {
	dir, err := b.existingDir(folder)
	if err != nil {
		return err
	}

	files, err := scan(dir)
	if err != nil {
		return err
	}

	removed := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !match(f.letters) {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", f.path, err)
		}
		b.paths.Remove(cacheKey(dir, f.unique))
		removed++
	}

	b.logger.WithFields(logrus.Fields{"folder": folder, "removed": removed}).Debug("Removed maildir messages")
	return nil
}

func (b *Backend) DeleteFolder(ctx context.Context, folder string) error {
	if types.NormalizeFolder(folder) == types.InboxFolder {
		return fmt.Errorf("cannot delete the inbox of a maildir")
	}

	dir, err := b.existingDir(folder)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", folder, err)
	}
	b.paths.Purge()
	return nil
}

func (b *Backend) GetEnvelope(ctx context.Context, folder, id string) (*types.Envelope, error) {
	internalID, err := b.resolve(ctx, folder, id)
	if err != nil {
		return nil, err
	}
	return b.GetEnvelopeInternal(ctx, folder, internalID)
}

func (b *Backend) GetEnvelopeInternal(ctx context.Context, folder, internalID string) (*types.Envelope, error) {
	dir, err := b.existingDir(folder)
	if err != nil {
		return nil, err
	}

	path, err := b.locate(dir, internalID)
	if err != nil {
		return nil, err
	}

	kw, err := readKeywords(dir)
	if err != nil {
		return nil, err
	}
	_, letters := splitName(filepath.Base(path))
	env, err := readEnvelope(path, internalID, letters, &kw)
	if err != nil {
		return nil, err
	}

	if env.ID, err = b.mapper(folder).Insert(ctx, internalID); err != nil {
		return nil, err
	}
	return env, nil
}

// ListEnvelopes returns the envelopes of folder, newest first.
func (b *Backend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) (types.Envelopes, error) {
	dir, err := b.existingDir(folder)
	if err != nil {
		return nil, err
	}

	files, err := scan(dir)
	if err != nil {
		return nil, err
	}
	kw, err := readKeywords(dir)
	if err != nil {
		return nil, err
	}

	envs := make(types.Envelopes, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env, err := readEnvelope(f.path, f.unique, f.letters, &kw)
		if err != nil {
			return nil, err
		}
		b.paths.Add(cacheKey(dir, f.unique), f.path)
		envs = append(envs, *env)
	}

	backend.SortEnvelopes(envs, backend.SortDateDesc)

	start, end, err := backend.Paginate(len(envs), pageSize, page)
	if err != nil {
		return nil, err
	}
	envs = envs[start:end]

	if err := b.assignIDs(ctx, folder, envs); err != nil {
		return nil, err
	}
	return envs, nil
}

func (b *Backend) assignIDs(ctx context.Context, folder string, envs types.Envelopes) error {
	if len(envs) == 0 {
		return nil
	}

	internalIDs := make([]string, len(envs))
	for i := range envs {
		internalIDs[i] = envs[i].InternalID
	}

	m := b.mapper(folder)
	if _, err := m.Append(ctx, internalIDs); err != nil {
		return err
	}
	for i := range envs {
		id, err := m.GetID(ctx, envs[i].InternalID)
		if err != nil {
			return err
		}
		envs[i].ID = id
	}
	return nil
}

func (b *Backend) SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) (types.Envelopes, error) {
	return nil, fmt.Errorf("maildir search: %w", backend.ErrUnsupported)
}

func (b *Backend) AddEmail(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	internalID, err := b.AddEmailInternal(ctx, folder, raw, flags)
	if err != nil {
		return "", err
	}
	return b.mapper(folder).Insert(ctx, internalID)
}

// AddEmailInternal delivers raw through tmp into cur and returns the unique
// part of the new file name.
func (b *Backend) AddEmailInternal(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	dir, err := b.existingDir(folder)
	if err != nil {
		return "", err
	}

	letters, err := b.letters(dir, flags)
	if err != nil {
		return "", err
	}

	unique := b.newUnique()
	tmp := filepath.Join(dir, "tmp", unique)
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}

	dst := filepath.Join(dir, "cur", fileName(unique, letters))
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to deliver message: %w", err)
	}

	b.paths.Add(cacheKey(dir, unique), dst)
	return unique, nil
}

// letters encodes flags for a message file of dir, recording new keywords
// in the keywords file of the folder.
func (b *Backend) letters(dir string, flags types.Flags) (string, error) {
	b.kwMu.Lock()
	defer b.kwMu.Unlock()

	kw, err := readKeywords(dir)
	if err != nil {
		return "", err
	}
	letters, added, dropped := encodeFlags(flags, &kw)
	if len(dropped) > 0 {
		b.logger.WithFields(logrus.Fields{
			"dir":      dir,
			"keywords": dropped,
		}).Warn("No keyword letter left in maildir folder, keywords not stored")
	}
	if added {
		if err := kw.write(dir); err != nil {
			return "", err
		}
	}
	return letters, nil
}

func (b *Backend) newUnique() string {
	return fmt.Sprintf("%d.%s.%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", ""), b.hostname)
}

func (b *Backend) PreviewEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return nil, err
	}
	emails, err := b.PreviewEmailsInternal(ctx, folder, internalIDs)
	if err != nil {
		return nil, err
	}
	for i := range emails {
		emails[i].ID = ids[i]
	}
	return emails, nil
}

func (b *Backend) PreviewEmailsInternal(ctx context.Context, folder string, internalIDs []string) (types.Emails, error) {
	dir, err := b.existingDir(folder)
	if err != nil {
		return nil, err
	}

	emails := make(types.Emails, 0, len(internalIDs))
	for _, internalID := range internalIDs {
		path, err := b.locate(dir, internalID)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read message %s: %w", internalID, err)
		}
		emails = append(emails, types.Email{InternalID: internalID, Raw: raw})
	}
	return emails, nil
}

func (b *Backend) GetEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return nil, err
	}
	emails, err := b.GetEmailsInternal(ctx, folder, internalIDs)
	if err != nil {
		return nil, err
	}
	for i := range emails {
		emails[i].ID = ids[i]
	}
	return emails, nil
}

func (b *Backend) GetEmailsInternal(ctx context.Context, folder string, internalIDs []string) (types.Emails, error) {
	emails, err := b.PreviewEmailsInternal(ctx, folder, internalIDs)
	if err != nil {
		return nil, err
	}
	if err := b.AddFlagsInternal(ctx, folder, internalIDs, types.NewFlags(types.FlagSeen)); err != nil {
		return nil, err
	}
	return emails, nil
}

func (b *Backend) CopyEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	internalIDs, err := b.resolveAll(ctx, fromFolder, ids)
	if err != nil {
		return err
	}
	return b.CopyEmailsInternal(ctx, fromFolder, toFolder, internalIDs)
}

func (b *Backend) CopyEmailsInternal(ctx context.Context, fromFolder, toFolder string, internalIDs []string) error {
	src, err := b.existingDir(fromFolder)
	if err != nil {
		return err
	}
	kw, err := readKeywords(src)
	if err != nil {
		return err
	}

	for _, internalID := range internalIDs {
		path, err := b.locate(src, internalID)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read message %s: %w", internalID, err)
		}
		_, letters := splitName(filepath.Base(path))
		copied, err := b.AddEmailInternal(ctx, toFolder, raw, decodeFlags(letters, &kw))
		if err != nil {
			return err
		}
		if _, err := b.mapper(toFolder).Insert(ctx, copied); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) MoveEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	internalIDs, err := b.resolveAll(ctx, fromFolder, ids)
	if err != nil {
		return err
	}
	return b.MoveEmailsInternal(ctx, fromFolder, toFolder, internalIDs)
}

// MoveEmailsInternal renames the files into toFolder. The unique part, and
// so the internal id, is kept.
func (b *Backend) MoveEmailsInternal(ctx context.Context, fromFolder, toFolder string, internalIDs []string) error {
	src, err := b.existingDir(fromFolder)
	if err != nil {
		return err
	}
	dst, err := b.existingDir(toFolder)
	if err != nil {
		return err
	}
	kw, err := readKeywords(src)
	if err != nil {
		return err
	}

	for _, internalID := range internalIDs {
		path, err := b.locate(src, internalID)
		if err != nil {
			return err
		}
		_, letters := splitName(filepath.Base(path))
		moved, err := b.letters(dst, decodeFlags(letters, &kw))
		if err != nil {
			return err
		}
		target := filepath.Join(dst, "cur", fileName(internalID, moved))
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("failed to move message %s: %w", internalID, err)
		}
		b.paths.Remove(cacheKey(src, internalID))
		b.paths.Add(cacheKey(dst, internalID), target)
	}

	_, err = b.mapper(toFolder).Append(ctx, internalIDs)
	return err
}

func (b *Backend) DeleteEmails(ctx context.Context, folder string, ids []string) error {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return err
	}
	return b.DeleteEmailsInternal(ctx, folder, internalIDs)
}

func (b *Backend) DeleteEmailsInternal(ctx context.Context, folder string, internalIDs []string) error {
	if b.account.IsTrash(folder) {
		return backend.MarkEmailsAsDeletedInternal(ctx, b, folder, internalIDs)
	}

	trash := b.account.TrashFolder()
	if err := b.AddFolder(ctx, trash); err != nil {
		return err
	}
	return b.MoveEmailsInternal(ctx, folder, trash, internalIDs)
}

func (b *Backend) AddFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return err
	}
	return b.AddFlagsInternal(ctx, folder, internalIDs, flags)
}

func (b *Backend) SetFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return err
	}
	return b.SetFlagsInternal(ctx, folder, internalIDs, flags)
}

func (b *Backend) RemoveFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	internalIDs, err := b.resolveAll(ctx, folder, ids)
	if err != nil {
		return err
	}
	return b.RemoveFlagsInternal(ctx, folder, internalIDs, flags)
}

func (b *Backend) AddFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error {
	return b.updateFlags(folder, internalIDs, func(current types.Flags) types.Flags {
		return current.Union(flags)
	})
}

func (b *Backend) SetFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error {
	return b.updateFlags(folder, internalIDs, func(types.Flags) types.Flags {
		return flags.Clone()
	})
}

func (b *Backend) RemoveFlagsInternal(ctx context.Context, folder string, internalIDs []string, flags types.Flags) error {
	return b.updateFlags(folder, internalIDs, func(current types.Flags) types.Flags {
		next := current.Clone()
		for f := range flags {
			next.Remove(f)
		}
		return next
	})
}

// updateFlags renames each message into cur with its new flag letters.
func (b *Backend) updateFlags(folder string, internalIDs []string, update func(types.Flags) types.Flags) error {
	dir, err := b.existingDir(folder)
	if err != nil {
		return err
	}
	kw, err := readKeywords(dir)
	if err != nil {
		return err
	}

	for _, internalID := range internalIDs {
		path, err := b.locate(dir, internalID)
		if err != nil {
			return err
		}
		_, letters := splitName(filepath.Base(path))
		next, err := b.letters(dir, update(decodeFlags(letters, &kw)))
		if err != nil {
			return err
		}
		target := filepath.Join(dir, "cur", fileName(internalID, next))
		if target == path {
			continue
		}
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("failed to update flags of %s: %w", internalID, err)
		}
		b.paths.Add(cacheKey(dir, internalID), target)
	}
	return nil
}

func (b *Backend) resolve(ctx context.Context, folder, id string) (string, error) {
	internalID, err := b.mapper(folder).GetInternalID(ctx, id)
	if errors.Is(err, idmapper.ErrNotFound) {
		return "", fmt.Errorf("message %s in %s: %w", id, folder, backend.ErrNotFound)
	}
	return internalID, err
}

func (b *Backend) resolveAll(ctx context.Context, folder string, ids []string) ([]string, error) {
	internalIDs := make([]string, len(ids))
	for i, id := range ids {
		internalID, err := b.resolve(ctx, folder, id)
		if err != nil {
			return nil, err
		}
		internalIDs[i] = internalID
	}
	return internalIDs, nil
}

// locate returns the current path of a message, consulting the path cache
// before scanning cur and new.
func (b *Backend) locate(dir, internalID string) (string, error) {
	key := cacheKey(dir, internalID)
	if path, ok := b.paths.Get(key); ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		b.paths.Remove(key)
	}

	files, err := scan(dir)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.unique == internalID {
			b.paths.Add(key, f.path)
			return f.path, nil
		}
	}
	return "", fmt.Errorf("message %s: %w", internalID, backend.ErrNotFound)
}

func cacheKey(dir, internalID string) string {
	return dir + "\x00" + internalID
}

type messageFile struct {
	path    string
	unique  string
	letters string
}

// scan lists the messages in cur and new.
func scan(dir string) ([]messageFile, error) {
	var files []messageFile
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", sub, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			unique, letters := splitName(e.Name())
			files = append(files, messageFile{
				path:    filepath.Join(dir, sub, e.Name()),
				unique:  unique,
				letters: letters,
			})
		}
	}
	return files, nil
}
