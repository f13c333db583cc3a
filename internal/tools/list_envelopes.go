package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/account"
)

const defaultPageSize = 20

// ListEnvelopesTool lists the envelopes of a folder, newest first
type ListEnvelopesTool struct {
	manager *account.Manager
}

// Name returns the tool name
func (t *ListEnvelopesTool) Name() string {
	return "list_envelopes"
}

// Description returns the tool description
func (t *ListEnvelopesTool) Description() string {
	return "List the envelopes of a folder page by page, newest first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListEnvelopesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": pagingProperties(map[string]interface{}{
			"account_name": accountProperty(),
			"folder":       folderProperty(),
		}),
	}
}

// Execute executes the tool
func (t *ListEnvelopesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	acc, err := t.manager.Account(stringParam(params, "account_name"))
	if err != nil {
		return nil, err
	}
	b, err := t.manager.Backend(ctx, acc.Name)
	if err != nil {
		return nil, err
	}

	pageSize, err := intParam(params, "page_size", defaultPageSize)
	if err != nil {
		return nil, err
	}
	page, err := intParam(params, "page", 0)
	if err != nil {
		return nil, err
	}

	folder := folderParam(acc, params)
	envs, err := b.ListEnvelopes(ctx, folder, pageSize, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes of %s: %w", folder, err)
	}
	return envs, nil
}
