package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
	"github.com/brandon/mailsync/internal/backend"
)

// ReadEmailTool retrieves a full message and marks it Seen
type ReadEmailTool struct {
	manager *account.Manager
	logger  *logrus.Logger
}

// Name returns the tool name
func (t *ReadEmailTool) Name() string {
	return "read_email"
}

// Description returns the tool description
func (t *ReadEmailTool) Description() string {
	return "Read a message by envelope id and mark it as seen"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ReadEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty(),
			"folder":       folderProperty(),
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Envelope id (from list_envelopes or search_envelopes)",
			},
			"preview": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Do not mark the message as seen",
			},
		},
		"required": []string{"id"},
	}
}

// Execute executes the tool
func (t *ReadEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "id")
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}

	acc, err := t.manager.Account(stringParam(params, "account_name"))
	if err != nil {
		return nil, err
	}
	b, err := t.manager.Backend(ctx, acc.Name)
	if err != nil {
		return nil, err
	}
	folder := folderParam(acc, params)

	env, err := b.GetEnvelope(ctx, folder, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get envelope %s: %w", id, err)
	}

	fetch := b.GetEmails
	if boolParam(params, "preview") {
		fetch = b.PreviewEmails
	}
	emails, err := fetch(ctx, folder, []string{id})
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", id, err)
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, backend.ErrNotFound)
	}

	msg, err := enmime.ReadEnvelope(bytes.NewReader(emails[0].Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", id, err)
	}
	for _, perr := range msg.Errors {
		t.logger.WithField("id", id).WithField("part_error", perr.Error()).Debug("Message parsed with errors")
	}

	attachments := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, a.FileName)
	}

	return map[string]interface{}{
		"envelope":    env,
		"to":          msg.GetHeader("To"),
		"cc":          msg.GetHeader("Cc"),
		"body_text":   msg.Text,
		"body_html":   msg.HTML,
		"attachments": attachments,
	}, nil
}
