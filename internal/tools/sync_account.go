package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
)

// SyncAccountTool synchronizes an account with its local replica
type SyncAccountTool struct {
	manager *account.Manager
	logger  *logrus.Logger
}

// Name returns the tool name
func (t *SyncAccountTool) Name() string {
	return "sync_account"
}

// Description returns the tool description
func (t *SyncAccountTool) Description() string {
	return "Synchronize an account with its local replica and return the sync report"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncAccountTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty(),
			"folders": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: Only sync these folders",
			},
			"dry_run": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Report the changes without applying them",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncAccountTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name := stringParam(params, "account_name")
	report, err := t.manager.SyncAccount(ctx, name, account.SyncOptions{
		Folders: stringsParam(params, "folders"),
		DryRun:  boolParam(params, "dry_run"),
	})
	if err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"account":    report.Account,
		"has_errors": report.HasErrors(),
	}).Info("Synced account")
	return report, nil
}
