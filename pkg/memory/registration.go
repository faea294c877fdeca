package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/mnemo/pkg/toolexecutor"
)

// ToolExecutor interface for registering tools
// This avoids circular dependency with pkg/toolexecutor
type ToolExecutor interface {
	RegisterTool(def toolexecutor.ToolDefinition) error
}

// Tool names
const (
	ToolStore  = "store_memory"
	ToolRecall = "recall_memory"
	ToolUpdate = "update_memory"
	ToolForget = "forget_memory"
	ToolHealth = "memory_health"
)

var userParam = toolexecutor.ToolParameter{
	Name:        "user_id",
	Type:        "string",
	Description: "Owner of the memory; defaults to the configured user",
	Required:    false,
}

// decodeParams converts a validated parameter map into a typed struct.
func decodeParams(params map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// RegisterMemoryTools registers all memory tools with the tool executor
func RegisterMemoryTools(executor ToolExecutor, svc *Service) error {
	tools := []toolexecutor.ToolDefinition{
		{
			Name:        ToolStore,
			Description: "Store a short fact in long-term memory",
			Parameters: []toolexecutor.ToolParameter{
				{
					Name:        "content",
					Type:        "string",
					Description: "Text of the memory",
					Required:    true,
				},
				userParam,
				{
					Name:        "category",
					Type:        "string",
					Description: "Category; inferred from the content when omitted",
					Required:    false,
					Enum:        ValidCategories,
				},
				{
					Name:        "importance",
					Type:        "number",
					Description: "Importance weight used in ranking",
					Required:    false,
					Default:     DefaultImportance,
				},
				{
					Name:        "ttl_seconds",
					Type:        "integer",
					Description: "Expire the memory after this many seconds",
					Required:    false,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p StoreParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				return svc.Store(ctx, p)
			},
		},
		{
			Name:        ToolRecall,
			Description: "Recall the memories most relevant to a query using hybrid semantic and keyword search",
			Parameters: []toolexecutor.ToolParameter{
				{
					Name:        "query",
					Type:        "string",
					Description: "Search query",
					Required:    true,
				},
				userParam,
				{
					Name:        "category_filter",
					Type:        "string",
					Description: "Only return memories of this category",
					Required:    false,
					Enum:        ValidCategories,
				},
				{
					Name:        "limit",
					Type:        "integer",
					Description: "Maximum number of answers",
					Required:    false,
					Default:     DefaultRecallLimit,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p RecallParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				return svc.Recall(ctx, p)
			},
		},
		{
			Name:        ToolUpdate,
			Description: "Replace the content of an existing memory",
			Parameters: []toolexecutor.ToolParameter{
				{
					Name:        "memory_id",
					Type:        "string",
					Description: "Id of the memory to update",
					Required:    true,
				},
				{
					Name:        "content",
					Type:        "string",
					Description: "New text of the memory",
					Required:    true,
				},
				userParam,
				{
					Name:        "category",
					Type:        "string",
					Description: "Category; inferred from the content when omitted",
					Required:    false,
					Enum:        ValidCategories,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p UpdateParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				return svc.Update(ctx, p)
			},
		},
		{
			Name:        ToolForget,
			Description: "Forget a memory by id, or the memories matching a query (preview unless confirmed)",
			Parameters: []toolexecutor.ToolParameter{
				{
					Name:        "memory_id",
					Type:        "string",
					Description: "Id of the memory to forget",
					Required:    false,
				},
				{
					Name:        "query",
					Type:        "string",
					Description: "Forget the memories matching this query",
					Required:    false,
				},
				userParam,
				{
					Name:        "confirm",
					Type:        "boolean",
					Description: "Delete query matches instead of previewing them",
					Required:    false,
					Default:     false,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p ForgetParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				return svc.Forget(ctx, p)
			},
		},
		{
			Name:        ToolHealth,
			Description: "Report memory store and cache status",
			Parameters:  []toolexecutor.ToolParameter{userParam},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				user, _ := params["user_id"].(string)
				return svc.Health(ctx, user), nil
			},
		},
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	return nil
}
