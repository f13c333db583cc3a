package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	goimap "github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// ErrUIDPlusMissing is returned by AddEmail when the server cannot report
// the UID of an appended message.
var ErrUIDPlusMissing = errors.New("IMAP server does not support UIDPLUS")

var envelopeItems = []goimap.FetchItem{goimap.FetchEnvelope, goimap.FetchFlags, goimap.FetchUid}

// Backend is a remote IMAP store shared by a pool of sessions.
type Backend struct {
	account *config.AccountConfig
	pool    *pool
	logger  *logrus.Logger
}

var _ backend.Backend = (*Backend)(nil)

// New dials and authenticates the configured number of sessions.
func New(ctx context.Context, account *config.AccountConfig, logger *logrus.Logger) (*Backend, error) {
	cfg := account.Backend.IMAP
	if cfg == nil {
		return nil, fmt.Errorf("account %s has no imap backend", account.Name)
	}

	password, err := cfg.ResolvePassword()
	if err != nil {
		return nil, err
	}

	p, err := dialPool(ctx, cfg, password, logger)
	if err != nil {
		return nil, err
	}

	return &Backend{account: account, pool: p, logger: logger}, nil
}

func (b *Backend) Name() string {
	return "imap"
}

func (b *Backend) Close() error {
	return b.pool.close()
}

// with runs fn on the next session of the pool.
func (b *Backend) with(ctx context.Context, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := b.pool.acquire()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return fmt.Errorf("imap session is closed")
	}
	return fn(s.c)
}

// withFolder selects folder before running fn.
func (b *Backend) withFolder(ctx context.Context, folder string, fn func(c *client.Client, status *goimap.MailboxStatus) error) error {
	return b.with(ctx, func(c *client.Client) error {
		status, err := c.Select(folder, false)
		if err != nil {
			return fmt.Errorf("failed to select folder %s: %w", folder, err)
		}
		return fn(c, status)
	})
}

func (b *Backend) AddFolder(ctx context.Context, folder string) error {
	return b.with(ctx, func(c *client.Client) error {
		if err := c.Create(folder); err != nil {
			return fmt.Errorf("failed to create folder %s: %w", folder, err)
		}
		return nil
	})
}

func (b *Backend) ListFolders(ctx context.Context) (types.Folders, error) {
	var folders types.Folders
	err := b.with(ctx, func(c *client.Client) error {
		mailboxes := make(chan *goimap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			if hasAttr(m.Attributes, goimap.NoSelectAttr) {
				continue
			}
			folders = append(folders, types.Folder{
				Name:  types.NormalizeFolder(m.Name),
				Delim: m.Delimiter,
			})
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		return nil
	})
	return folders, err
}

func hasAttr(attrs []string, attr string) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}

func (b *Backend) ExpungeFolder(ctx context.Context, folder string) error {
	return b.withFolder(ctx, folder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge folder %s: %w", folder, err)
		}
		return nil
	})
}

func (b *Backend) PurgeFolder(ctx context.Context, folder string) error {
	return b.withFolder(ctx, folder, func(c *client.Client, status *goimap.MailboxStatus) error {
		if status.Messages == 0 {
			return nil
		}
		all := new(goimap.SeqSet)
		all.AddRange(1, status.Messages)
		item := goimap.FormatFlagsOp(goimap.AddFlags, true)
		if err := c.Store(all, item, []interface{}{goimap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to purge folder %s: %w", folder, err)
		}
		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("failed to purge folder %s: %w", folder, err)
		}
		return nil
	})
}

func (b *Backend) DeleteFolder(ctx context.Context, folder string) error {
	return b.with(ctx, func(c *client.Client) error {
		if err := c.Delete(folder); err != nil {
			return fmt.Errorf("failed to delete folder %s: %w", folder, err)
		}
		return nil
	})
}

func (b *Backend) GetEnvelope(ctx context.Context, folder, id string) (*types.Envelope, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	var env *types.Envelope
	err = b.withFolder(ctx, folder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		set := new(goimap.SeqSet)
		set.AddNum(uid)
		msgs, err := fetch(c, true, set, envelopeItems)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if msg.Uid == uid {
				e := toEnvelope(msg)
				env = &e
				return nil
			}
		}
		return fmt.Errorf("message %s in %s: %w", id, folder, backend.ErrNotFound)
	})
	return env, err
}

// ListEnvelopes pages through the folder from the highest sequence number
// down, so page 0 holds the newest messages.
func (b *Backend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) (types.Envelopes, error) {
	envs := types.Envelopes{}
	err := b.withFolder(ctx, folder, func(c *client.Client, status *goimap.MailboxStatus) error {
		total := int(status.Messages)
		start, end, err := backend.Paginate(total, pageSize, page)
		if err != nil {
			return err
		}
		if start == end {
			return nil
		}

		set := new(goimap.SeqSet)
		set.AddRange(uint32(total-end+1), uint32(total-start))
		msgs, err := fetch(c, false, set, envelopeItems)
		if err != nil {
			return err
		}

		sort.Slice(msgs, func(i, j int) bool { return msgs[i].SeqNum > msgs[j].SeqNum })
		for _, msg := range msgs {
			envs = append(envs, toEnvelope(msg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (b *Backend) SearchEnvelopes(ctx context.Context, folder, query, sortBy string, pageSize, page int) (types.Envelopes, error) {
	q, err := backend.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	order, err := backend.ParseSort(sortBy)
	if err != nil {
		return nil, err
	}

	envs := types.Envelopes{}
	err = b.withFolder(ctx, folder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		uids, err := c.UidSearch(criteria(q))
		if err != nil {
			return fmt.Errorf("failed to search folder %s: %w", folder, err)
		}
		if len(uids) == 0 {
			return nil
		}

		set := new(goimap.SeqSet)
		set.AddNum(uids...)
		msgs, err := fetch(c, true, set, envelopeItems)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			envs = append(envs, toEnvelope(msg))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	backend.SortEnvelopes(envs, order)
	start, end, err := backend.Paginate(len(envs), pageSize, page)
	if err != nil {
		return nil, err
	}
	return envs[start:end], nil
}

// AddEmail appends raw and returns its UID, which requires UIDPLUS.
func (b *Backend) AddEmail(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	var uid uint32
	err := b.with(ctx, func(c *client.Client) error {
		ok, err := c.Support("UIDPLUS")
		if err != nil {
			return err
		}
		if !ok {
			return ErrUIDPlusMissing
		}

		_, uid, err = uidplus.NewClient(c).Append(folder, toIMAPFlags(flags), time.Now(), bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("failed to append message to %s: %w", folder, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(uid), 10), nil
}

func (b *Backend) PreviewEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	return b.fetchEmails(ctx, folder, ids, true)
}

func (b *Backend) GetEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	return b.fetchEmails(ctx, folder, ids, false)
}

// fetchEmails returns the raw messages in the order of ids. A non-peek
// fetch lets the server set Seen.
func (b *Backend) fetchEmails(ctx context.Context, folder string, ids []string, peek bool) (types.Emails, error) {
	set, err := uidSet(ids)
	if err != nil {
		return nil, err
	}

	section := &goimap.BodySectionName{Peek: peek}
	byUID := make(map[string][]byte, len(ids))
	err = b.withFolder(ctx, folder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		msgs, err := fetch(c, true, set, []goimap.FetchItem{goimap.FetchUid, section.FetchItem()})
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			literal := msg.GetBody(section)
			if literal == nil {
				continue
			}
			raw, err := io.ReadAll(literal)
			if err != nil {
				return fmt.Errorf("failed to read message %d: %w", msg.Uid, err)
			}
			byUID[strconv.FormatUint(uint64(msg.Uid), 10)] = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	emails := make(types.Emails, 0, len(ids))
	for _, id := range ids {
		raw, ok := byUID[id]
		if !ok {
			return nil, fmt.Errorf("message %s in %s: %w", id, folder, backend.ErrNotFound)
		}
		emails = append(emails, types.Email{ID: id, InternalID: id, Raw: raw})
	}
	return emails, nil
}

func (b *Backend) CopyEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	set, err := uidSet(ids)
	if err != nil {
		return err
	}
	return b.withFolder(ctx, fromFolder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		if err := c.UidCopy(set, toFolder); err != nil {
			return fmt.Errorf("failed to copy messages to %s: %w", toFolder, err)
		}
		return nil
	})
}

func (b *Backend) MoveEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	set, err := uidSet(ids)
	if err != nil {
		return err
	}
	return b.withFolder(ctx, fromFolder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		if err := c.UidMove(set, toFolder); err != nil {
			return fmt.Errorf("failed to move messages to %s: %w", toFolder, err)
		}
		return nil
	})
}

func (b *Backend) DeleteEmails(ctx context.Context, folder string, ids []string) error {
	if b.account.IsTrash(folder) {
		return backend.MarkEmailsAsDeleted(ctx, b, folder, ids)
	}
	return b.MoveEmails(ctx, folder, b.account.TrashFolder(), ids)
}

func (b *Backend) AddFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.store(ctx, folder, ids, goimap.AddFlags, flags)
}

func (b *Backend) SetFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.store(ctx, folder, ids, goimap.SetFlags, flags)
}

func (b *Backend) RemoveFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.store(ctx, folder, ids, goimap.RemoveFlags, flags)
}

func (b *Backend) store(ctx context.Context, folder string, ids []string, op goimap.FlagsOp, flags types.Flags) error {
	set, err := uidSet(ids)
	if err != nil {
		return err
	}
	return b.withFolder(ctx, folder, func(c *client.Client, _ *goimap.MailboxStatus) error {
		if err := c.UidStore(set, goimap.FormatFlagsOp(op, true), storeValue(flags), nil); err != nil {
			return fmt.Errorf("failed to store flags in %s: %w", folder, err)
		}
		return nil
	})
}

// fetch collects the messages of a FETCH or UID FETCH.
func fetch(c *client.Client, uid bool, set *goimap.SeqSet, items []goimap.FetchItem) ([]*goimap.Message, error) {
	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		if uid {
			done <- c.UidFetch(set, items, messages)
		} else {
			done <- c.Fetch(set, items, messages)
		}
	}()

	var msgs []*goimap.Message
	for msg := range messages {
		msgs = append(msgs, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}
