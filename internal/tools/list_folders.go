package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/account"
)

// ListFoldersTool lists the folders of an account
type ListFoldersTool struct {
	manager *account.Manager
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List the folders of an account"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProperty(),
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	b, err := t.manager.Backend(ctx, stringParam(params, "account_name"))
	if err != nil {
		return nil, err
	}

	folders, err := b.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}
