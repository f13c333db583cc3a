package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// Registry manages the API tools
type Registry struct {
	manager *account.Manager
	logger  *logrus.Logger
	tools   map[string]Tool
}

// Tool is one callable operation of the API
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(manager *account.Manager, logger *logrus.Logger) *Registry {
	reg := &Registry{
		manager: manager,
		logger:  logger,
		tools:   make(map[string]Tool),
	}

	reg.registerTools()
	return reg
}

func (r *Registry) registerTools() {
	toolList := []Tool{
		&SyncAccountTool{manager: r.manager, logger: r.logger},
		&ListFoldersTool{manager: r.manager},
		&ListEnvelopesTool{manager: r.manager},
		&SearchEnvelopesTool{manager: r.manager},
		&ReadEmailTool{manager: r.manager, logger: r.logger},
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	r.logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools sorted by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns the tool definitions advertised by tools/list
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

func accountProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Optional: Account name, the default account if omitted",
	}
}

func folderProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Folder name or alias (inbox, trash, drafts, sent). Defaults to INBOX",
	}
}

func pagingProperties(props map[string]interface{}) map[string]interface{} {
	props["page_size"] = map[string]interface{}{
		"type":        "integer",
		"description": "Optional: Envelopes per page (default: 20, 0 for all)",
	}
	props["page"] = map[string]interface{}{
		"type":        "integer",
		"description": "Optional: Zero-based page number (default: 0)",
	}
	return props
}

// folderParam resolves the folder parameter through the account aliases
func folderParam(acc *config.AccountConfig, params map[string]interface{}) string {
	folder := stringParam(params, "folder")
	if folder == "" {
		return types.InboxFolder
	}
	return acc.FolderAlias(folder)
}

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, name string, def int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid %s: %v", name, v)
	}
}

func boolParam(params map[string]interface{}, name string) bool {
	b, _ := params[name].(bool)
	return b
}

func stringsParam(params map[string]interface{}, name string) []string {
	items, _ := params[name].([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
