package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

// LocalSuffix distinguishes local side rows from remote side rows.
const LocalSuffix = "#local"

func localKey(account string) string {
	return account + LocalSuffix
}

// Tx is the cache transaction of one sync pass. Every read and write of the
// pass goes through it so a rollback undoes the whole pass.
type Tx struct {
	tx     *sqlx.Tx
	logger *logrus.Logger
}

// Commit makes the pass durable
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache: %w", err)
	}
	return nil
}

// Rollback discards the pass
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback cache: %w", err)
	}
	return nil
}

// ListLocalFolders returns the local folder names recorded for account,
// restricted to subset when it is not nil
func (t *Tx) ListLocalFolders(ctx context.Context, account string, subset []string) ([]string, error) {
	return t.listFolders(ctx, localKey(account), subset)
}

// ListRemoteFolders returns the remote folder names recorded for account,
// restricted to subset when it is not nil
func (t *Tx) ListRemoteFolders(ctx context.Context, account string, subset []string) ([]string, error) {
	return t.listFolders(ctx, account, subset)
}

func (t *Tx) listFolders(ctx context.Context, key string, subset []string) ([]string, error) {
	var (
		names []string
		err   error
	)

	switch {
	case subset == nil:
		err = t.tx.SelectContext(ctx, &names, `SELECT name FROM folders WHERE account = ?`, key)
	case len(subset) == 0:
		return []string{}, nil
	default:
		query, args, inErr := sqlx.In(`SELECT name FROM folders WHERE account = ? AND name IN (?)`, key, subset)
		if inErr != nil {
			return nil, fmt.Errorf("failed to build folders query: %w", inErr)
		}
		err = t.tx.SelectContext(ctx, &names, t.tx.Rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cached folders: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

func (t *Tx) InsertLocalFolder(ctx context.Context, account, folder string) error {
	return t.insertFolder(ctx, localKey(account), folder)
}

func (t *Tx) InsertRemoteFolder(ctx context.Context, account, folder string) error {
	return t.insertFolder(ctx, account, folder)
}

func (t *Tx) insertFolder(ctx context.Context, key, folder string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO folders (account, name) VALUES (?, ?) ON CONFLICT(name, account) DO NOTHING`,
		key, folder)
	if err != nil {
		return fmt.Errorf("failed to insert cached folder %s: %w", folder, err)
	}
	return nil
}

// DeleteLocalFolder removes the folder and its envelopes from the local side
func (t *Tx) DeleteLocalFolder(ctx context.Context, account, folder string) error {
	return t.deleteFolder(ctx, localKey(account), folder)
}

// DeleteRemoteFolder removes the folder and its envelopes from the remote side
func (t *Tx) DeleteRemoteFolder(ctx context.Context, account, folder string) error {
	return t.deleteFolder(ctx, account, folder)
}

func (t *Tx) deleteFolder(ctx context.Context, key, folder string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM folders WHERE account = ? AND name = ?`, key, folder); err != nil {
		return fmt.Errorf("failed to delete cached folder %s: %w", folder, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM envelopes WHERE account = ? AND folder = ?`, key, folder); err != nil {
		return fmt.Errorf("failed to delete cached envelopes of %s: %w", folder, err)
	}
	return nil
}

type envelopeRow struct {
	InternalID  string       `db:"internal_id"`
	ID          string       `db:"id"`
	MessageID   string       `db:"message_id"`
	Flags       string       `db:"flags"`
	Subject     string       `db:"subject"`
	SenderName  string       `db:"sender_name"`
	SenderEmail string       `db:"sender_email"`
	Date        sql.NullTime `db:"date"`
}

func (r *envelopeRow) envelope() types.Envelope {
	return types.Envelope{
		ID:         r.ID,
		InternalID: r.InternalID,
		MessageID:  r.MessageID,
		Flags:      types.ParseFlags(r.Flags),
		Subject:    r.Subject,
		From:       types.Sender{Name: r.SenderName, Address: r.SenderEmail},
		Date:       r.Date.Time,
	}
}

// ListLocalEnvelopes returns the local envelopes of folder keyed by internal id
func (t *Tx) ListLocalEnvelopes(ctx context.Context, account, folder string) (map[string]types.Envelope, error) {
	return t.listEnvelopes(ctx, localKey(account), folder)
}

// ListRemoteEnvelopes returns the remote envelopes of folder keyed by internal id
func (t *Tx) ListRemoteEnvelopes(ctx context.Context, account, folder string) (map[string]types.Envelope, error) {
	return t.listEnvelopes(ctx, account, folder)
}

func (t *Tx) listEnvelopes(ctx context.Context, key, folder string) (map[string]types.Envelope, error) {
	var rows []envelopeRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT internal_id, id, message_id, flags, subject, sender_name, sender_email, date
		FROM envelopes
		WHERE account = ? AND folder = ?`, key, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached envelopes of %s: %w", folder, err)
	}

	envelopes := make(map[string]types.Envelope, len(rows))
	for i := range rows {
		envelopes[rows[i].InternalID] = rows[i].envelope()
	}
	return envelopes, nil
}

// GetLocalFlags returns the local flags recorded at the last sync
func (t *Tx) GetLocalFlags(ctx context.Context, account, folder, internalID string) (types.Flags, error) {
	return t.getFlags(ctx, localKey(account), folder, internalID)
}

// GetRemoteFlags returns the remote flags recorded at the last sync
func (t *Tx) GetRemoteFlags(ctx context.Context, account, folder, internalID string) (types.Flags, error) {
	return t.getFlags(ctx, account, folder, internalID)
}

func (t *Tx) getFlags(ctx context.Context, key, folder, internalID string) (types.Flags, error) {
	var flags string
	err := t.tx.GetContext(ctx, &flags,
		`SELECT flags FROM envelopes WHERE account = ? AND folder = ? AND internal_id = ?`,
		key, folder, internalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cached flags of %s: %w", internalID, err)
	}
	return types.ParseFlags(flags), nil
}

func (t *Tx) InsertLocalEnvelope(ctx context.Context, account, folder string, env *types.Envelope) error {
	return t.insertEnvelope(ctx, localKey(account), folder, env)
}

func (t *Tx) InsertRemoteEnvelope(ctx context.Context, account, folder string, env *types.Envelope) error {
	return t.insertEnvelope(ctx, account, folder, env)
}

// insertEnvelope upserts, so inserting a known internal id refreshes its row
func (t *Tx) insertEnvelope(ctx context.Context, key, folder string, env *types.Envelope) error {
	query := `
		INSERT INTO envelopes (account, folder, internal_id, id, message_id, flags, subject, sender_name, sender_email, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, folder, internal_id) DO UPDATE SET
			id = excluded.id,
			message_id = excluded.message_id,
			flags = excluded.flags,
			subject = excluded.subject,
			sender_name = excluded.sender_name,
			sender_email = excluded.sender_email,
			date = excluded.date
	`
	_, err := t.tx.ExecContext(ctx, query,
		key, folder, env.InternalID, env.ID, env.CorrelationKey(), env.Flags.String(),
		env.Subject, env.From.Name, env.From.Address, env.Date.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert cached envelope %s: %w", env.InternalID, err)
	}
	return nil
}

func (t *Tx) DeleteLocalEnvelope(ctx context.Context, account, folder, internalID string) error {
	return t.deleteEnvelope(ctx, localKey(account), folder, internalID)
}

func (t *Tx) DeleteRemoteEnvelope(ctx context.Context, account, folder, internalID string) error {
	return t.deleteEnvelope(ctx, account, folder, internalID)
}

func (t *Tx) deleteEnvelope(ctx context.Context, key, folder, internalID string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM envelopes WHERE account = ? AND folder = ? AND internal_id = ?`,
		key, folder, internalID)
	if err != nil {
		return fmt.Errorf("failed to delete cached envelope %s: %w", internalID, err)
	}
	return nil
}
