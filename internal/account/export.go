package account

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/pkg/types"
)

const exportPageSize = 100

// ExportMbox writes every message of a folder to w in mbox format and
// returns the number of messages written. Messages are not marked Seen.
func (m *Manager) ExportMbox(ctx context.Context, name, folder string, w io.Writer) (int, error) {
	acc, err := m.Account(name)
	if err != nil {
		return 0, err
	}
	b, err := m.Backend(ctx, acc.Name)
	if err != nil {
		return 0, err
	}
	folder = acc.FolderAlias(folder)

	envs, err := b.ListEnvelopes(ctx, folder, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	mw := mbox.NewWriter(w)
	count := 0
	for start := 0; start < len(envs); start += exportPageSize {
		page := envs[start:min(start+exportPageSize, len(envs))]

		ids := make([]string, len(page))
		for i := range page {
			ids[i] = page[i].ID
		}
		emails, err := b.PreviewEmails(ctx, folder, ids)
		if err != nil {
			return count, fmt.Errorf("failed to read messages of %s: %w", folder, err)
		}

		for i := range emails {
			if err := writeMessage(mw, &page[i], emails[i].Raw); err != nil {
				return count, err
			}
			count++
		}
	}

	if err := mw.Close(); err != nil {
		return count, fmt.Errorf("failed to close mbox: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"account": acc.Name,
		"folder":  folder,
		"count":   count,
	}).Info("Exported folder")
	return count, nil
}

func writeMessage(mw *mbox.Writer, env *types.Envelope, raw []byte) error {
	from := env.From.Address
	if from == "" {
		from = "MAILER-DAEMON"
	}
	date := env.Date
	if date.IsZero() {
		date = time.Now()
	}

	w, err := mw.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("failed to create mbox message: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write mbox message: %w", err)
	}
	return nil
}
