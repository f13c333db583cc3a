package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/account"
)

// SearchEnvelopesTool searches the envelopes of a folder
type SearchEnvelopesTool struct {
	manager *account.Manager
}

// Name returns the tool name
func (t *SearchEnvelopesTool) Name() string {
	return "search_envelopes"
}

// Description returns the tool description
func (t *SearchEnvelopesTool) Description() string {
	return "Search the envelopes of a folder (subject, sender, body, flags)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEnvelopesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": pagingProperties(map[string]interface{}{
			"account_name": accountProperty(),
			"folder":       folderProperty(),
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Terms like 'subject <word>', 'from <word>', 'body <word>', 'flag <name>', 'not flag <name>' or bare words",
			},
			"sort": map[string]interface{}{
				"type":        "string",
				"description": "Optional: date (default, newest first), date:asc, subject or from",
			},
		}),
		"required": []string{"query"},
	}
}

// Execute executes the tool
func (t *SearchEnvelopesTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

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
	envs, err := b.SearchEnvelopes(ctx, folder, query, stringParam(params, "sort"), pageSize, page)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", folder, err)
	}
	return envs, nil
}
