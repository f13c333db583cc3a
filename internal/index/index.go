// Package index implements a backend storing whole messages in SQLite with
// an FTS5 index over subject, sender and text body. Message ids are row ids.
package index

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/brandon/mailsync/internal/backend"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// Backend is a search-index store.
type Backend struct {
	db      *sqlx.DB
	account *config.AccountConfig
	logger  *logrus.Logger
}

var _ backend.Backend = (*Backend)(nil)

type messageRow struct {
	ID          int64     `db:"id"`
	MessageID   string    `db:"message_id"`
	Subject     string    `db:"subject"`
	SenderName  string    `db:"sender_name"`
	SenderEmail string    `db:"sender_email"`
	Date        time.Time `db:"date"`
	Flags       string    `db:"flags"`
}

const envelopeColumns = `id, message_id, subject, sender_name, sender_email, date, flags`

func (r *messageRow) envelope() types.Envelope {
	id := strconv.FormatInt(r.ID, 10)
	return types.Envelope{
		ID:         id,
		InternalID: id,
		MessageID:  r.MessageID,
		Flags:      types.ParseFlags(r.Flags),
		Subject:    r.Subject,
		From:       types.Sender{Name: r.SenderName, Address: r.SenderEmail},
		Date:       r.Date,
	}
}

// New opens the index database at dbPath and creates its schema if needed.
func New(dbPath string, account *config.AccountConfig, logger *logrus.Logger) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	if _, err := db.Exec(`INSERT OR IGNORE INTO folders (name) VALUES (?)`, types.InboxFolder); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create inbox: %w", err)
	}

	if account == nil {
		account = &config.AccountConfig{}
	}

	logger.WithField("path", dbPath).Debug("Index initialized")
	return &Backend{db: db, account: account, logger: logger}, nil
}

func (b *Backend) Name() string {
	return "index"
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) folderExists(ctx context.Context, q sqlx.QueryerContext, folder string) error {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM folders WHERE name = ?`, folder); err != nil {
		return fmt.Errorf("failed to look up folder %s: %w", folder, err)
	}
	if n == 0 {
		return fmt.Errorf("folder %s: %w", folder, backend.ErrNotFound)
	}
	return nil
}

func (b *Backend) AddFolder(ctx context.Context, folder string) error {
	folder = types.NormalizeFolder(folder)
	if _, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO folders (name) VALUES (?)`, folder); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", folder, err)
	}
	return nil
}

func (b *Backend) ListFolders(ctx context.Context) (types.Folders, error) {
	var names []string
	if err := b.db.SelectContext(ctx, &names, `SELECT name FROM folders ORDER BY name <> 'INBOX', name`); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	folders := make(types.Folders, len(names))
	for i, name := range names {
		folders[i] = types.Folder{Name: name}
	}
	return folders, nil
}

func (b *Backend) ExpungeFolder(ctx context.Context, folder string) error {
	folder = types.NormalizeFolder(folder)
	if err := b.folderExists(ctx, b.db, folder); err != nil {
		return err
	}

	var rows []messageRow
	if err := b.db.SelectContext(ctx, &rows, `SELECT `+envelopeColumns+` FROM messages WHERE folder = ?`, folder); err != nil {
		return fmt.Errorf("failed to expunge folder %s: %w", folder, err)
	}

	var deleted []int64
	for _, r := range rows {
		if types.ParseFlags(r.Flags).Has(types.FlagDeleted) {
			deleted = append(deleted, r.ID)
		}
	}
	if len(deleted) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM messages WHERE id IN (?)`, deleted)
	if err != nil {
		return fmt.Errorf("failed to build expunge query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, b.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to expunge folder %s: %w", folder, err)
	}

	b.logger.WithFields(logrus.Fields{"folder": folder, "removed": len(deleted)}).Debug("Expunged index folder")
	return nil
}

func (b *Backend) PurgeFolder(ctx context.Context, folder string) error {
	folder = types.NormalizeFolder(folder)
	if err := b.folderExists(ctx, b.db, folder); err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE folder = ?`, folder); err != nil {
		return fmt.Errorf("failed to purge folder %s: %w", folder, err)
	}
	return nil
}

func (b *Backend) DeleteFolder(ctx context.Context, folder string) error {
	folder = types.NormalizeFolder(folder)

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := b.folderExists(ctx, tx, folder); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE folder = ?`, folder); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", folder, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE name = ?`, folder); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", folder, err)
	}
	return tx.Commit()
}

func (b *Backend) GetEnvelope(ctx context.Context, folder, id string) (*types.Envelope, error) {
	rowID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var row messageRow
	err = b.db.GetContext(ctx, &row, `SELECT `+envelopeColumns+` FROM messages WHERE folder = ? AND id = ?`,
		types.NormalizeFolder(folder), rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s in %s: %w", id, folder, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope: %w", err)
	}

	env := row.envelope()
	return &env, nil
}

func (b *Backend) ListEnvelopes(ctx context.Context, folder string, pageSize, page int) (types.Envelopes, error) {
	folder = types.NormalizeFolder(folder)
	if err := b.folderExists(ctx, b.db, folder); err != nil {
		return nil, err
	}

	var total int
	if err := b.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE folder = ?`, folder); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	start, end, err := backend.Paginate(total, pageSize, page)
	if err != nil {
		return nil, err
	}
	if start == end {
		return types.Envelopes{}, nil
	}

	var rows []messageRow
	err = b.db.SelectContext(ctx, &rows, `SELECT `+envelopeColumns+` FROM messages
		WHERE folder = ?
		ORDER BY date DESC, id DESC
		LIMIT ? OFFSET ?`, folder, end-start, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}

	envs := make(types.Envelopes, len(rows))
	for i := range rows {
		envs[i] = rows[i].envelope()
	}
	return envs, nil
}

// SearchEnvelopes runs a query. Subject, sender and flag criteria are SQL
// conditions; body and bare words go through the FTS index.
func (b *Backend) SearchEnvelopes(ctx context.Context, folder, query, sortBy string, pageSize, page int) (types.Envelopes, error) {
	q, err := backend.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	order, err := backend.ParseSort(sortBy)
	if err != nil {
		return nil, err
	}

	folder = types.NormalizeFolder(folder)
	if err := b.folderExists(ctx, b.db, folder); err != nil {
		return nil, err
	}

	conditions := []string{"folder = ?"}
	args := []interface{}{folder}

	for _, s := range q.Subject {
		conditions = append(conditions, "subject LIKE ?")
		args = append(args, "%"+s+"%")
	}

	for _, s := range q.From {
		conditions = append(conditions, "(sender_email LIKE ? OR sender_name LIKE ?)")
		term := "%" + s + "%"
		args = append(args, term, term)
	}

	var match []string
	for _, s := range q.Body {
		match = append(match, "body_text : "+ftsPhrase(s))
	}
	for _, s := range q.Text {
		match = append(match, ftsPhrase(s))
	}
	if len(match) > 0 {
		conditions = append(conditions, "id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)")
		args = append(args, strings.Join(match, " AND "))
	}

	sqlQuery := fmt.Sprintf(`SELECT %s FROM messages WHERE %s ORDER BY date DESC, id DESC`,
		envelopeColumns, strings.Join(conditions, " AND "))

	var rows []messageRow
	if err := b.db.SelectContext(ctx, &rows, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to search envelopes: %w", err)
	}

	envs := types.Envelopes{}
	for i := range rows {
		env := rows[i].envelope()
		if q.Match(&env) {
			envs = append(envs, env)
		}
	}

	backend.SortEnvelopes(envs, order)
	start, end, err := backend.Paginate(len(envs), pageSize, page)
	if err != nil {
		return nil, err
	}
	return envs[start:end], nil
}

// ftsPhrase quotes s as an FTS5 string.
func ftsPhrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// AddEmail stores raw and indexes its headers and text body.
func (b *Backend) AddEmail(ctx context.Context, folder string, raw []byte, flags types.Flags) (string, error) {
	folder = types.NormalizeFolder(folder)
	if err := b.folderExists(ctx, b.db, folder); err != nil {
		return "", err
	}

	env, err := backend.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}

	var bodyText string
	if parsed, err := enmime.ReadEnvelope(bytes.NewReader(raw)); err == nil {
		bodyText = parsed.Text
	} else {
		b.logger.WithError(err).Debug("Failed to parse message body, indexing headers only")
	}

	res, err := b.db.ExecContext(ctx, `INSERT INTO messages
		(folder, message_id, subject, sender_name, sender_email, date, flags, body_text, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		folder, env.MessageID, env.Subject, env.From.Name, env.From.Address, env.Date.UTC(),
		storedFlags(flags), bodyText, raw)
	if err != nil {
		return "", fmt.Errorf("failed to store message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to get message id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// storedFlags drops Recent, which only the session that observes a new
// message can hold.
func storedFlags(flags types.Flags) string {
	return flags.Without(types.FlagRecent).String()
}

func (b *Backend) PreviewEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	rowIDs, err := parseIDs(ids)
	if err != nil {
		return nil, err
	}

	query, args, err := sqlx.In(`SELECT id, raw FROM messages WHERE folder = ? AND id IN (?)`,
		types.NormalizeFolder(folder), rowIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []struct {
		ID  int64  `db:"id"`
		Raw []byte `db:"raw"`
	}
	if err := b.db.SelectContext(ctx, &rows, b.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	byID := make(map[int64][]byte, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.Raw
	}

	emails := make(types.Emails, 0, len(ids))
	for i, rowID := range rowIDs {
		raw, ok := byID[rowID]
		if !ok {
			return nil, fmt.Errorf("message %s in %s: %w", ids[i], folder, backend.ErrNotFound)
		}
		emails = append(emails, types.Email{ID: ids[i], InternalID: ids[i], Raw: raw})
	}
	return emails, nil
}

func (b *Backend) GetEmails(ctx context.Context, folder string, ids []string) (types.Emails, error) {
	emails, err := b.PreviewEmails(ctx, folder, ids)
	if err != nil {
		return nil, err
	}
	if err := b.AddFlags(ctx, folder, ids, types.NewFlags(types.FlagSeen)); err != nil {
		return nil, err
	}
	return emails, nil
}

func (b *Backend) CopyEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	return b.transfer(ctx, fromFolder, toFolder, ids, `INSERT INTO messages
		(folder, message_id, subject, sender_name, sender_email, date, flags, body_text, raw)
		SELECT ?, message_id, subject, sender_name, sender_email, date, flags, body_text, raw
		FROM messages WHERE folder = ? AND id IN (?)`)
}

func (b *Backend) MoveEmails(ctx context.Context, fromFolder, toFolder string, ids []string) error {
	return b.transfer(ctx, fromFolder, toFolder, ids, `UPDATE messages SET folder = ? WHERE folder = ? AND id IN (?)`)
}

func (b *Backend) transfer(ctx context.Context, fromFolder, toFolder string, ids []string, stmt string) error {
	rowIDs, err := parseIDs(ids)
	if err != nil {
		return err
	}
	fromFolder = types.NormalizeFolder(fromFolder)
	toFolder = types.NormalizeFolder(toFolder)

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := b.folderExists(ctx, tx, toFolder); err != nil {
		return err
	}

	query, args, err := sqlx.In(stmt, toFolder, fromFolder, rowIDs)
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to transfer messages to %s: %w", toFolder, err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) != len(uniqueIDs(rowIDs)) {
		return fmt.Errorf("messages in %s: %w", fromFolder, backend.ErrNotFound)
	}

	return tx.Commit()
}

func (b *Backend) DeleteEmails(ctx context.Context, folder string, ids []string) error {
	if b.account.IsTrash(folder) {
		return backend.MarkEmailsAsDeleted(ctx, b, folder, ids)
	}

	trash := b.account.TrashFolder()
	if err := b.AddFolder(ctx, trash); err != nil {
		return err
	}
	return b.MoveEmails(ctx, folder, trash, ids)
}

func (b *Backend) AddFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.updateFlags(ctx, folder, ids, func(current types.Flags) types.Flags {
		return current.Union(flags)
	})
}

func (b *Backend) SetFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.updateFlags(ctx, folder, ids, func(types.Flags) types.Flags {
		return flags.Clone()
	})
}

func (b *Backend) RemoveFlags(ctx context.Context, folder string, ids []string, flags types.Flags) error {
	return b.updateFlags(ctx, folder, ids, func(current types.Flags) types.Flags {
		next := current.Clone()
		for f := range flags {
			next.Remove(f)
		}
		return next
	})
}

func (b *Backend) updateFlags(ctx context.Context, folder string, ids []string, update func(types.Flags) types.Flags) error {
	rowIDs, err := parseIDs(ids)
	if err != nil {
		return err
	}
	folder = types.NormalizeFolder(folder)

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, rowID := range rowIDs {
		var current string
		err := tx.GetContext(ctx, &current, `SELECT flags FROM messages WHERE folder = ? AND id = ?`, folder, rowID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %s in %s: %w", ids[i], folder, backend.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read flags: %w", err)
		}

		next := storedFlags(update(types.ParseFlags(current)))
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET flags = ? WHERE id = ?`, next, rowID); err != nil {
			return fmt.Errorf("failed to update flags: %w", err)
		}
	}

	return tx.Commit()
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid message id %q: %w", id, backend.ErrNotFound)
	}
	return n, nil
}

func parseIDs(ids []string) ([]int64, error) {
	out := make([]int64, len(ids))
	for i, id := range ids {
		n, err := parseID(id)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
