package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultTimeout bounds a tool call when the execution context sets none.
const DefaultTimeout = 30 * time.Second

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	RequestID string
	Timeout   time.Duration
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Err is the handler error, kept for errors.Is checks by callers.
	Err error `json:"-"`
}

// Observer is told about every completed tool call.
type Observer interface {
	ObserveRequest(tool string, d time.Duration, err error)
}

// RetryConfig controls ExecuteWithRetry.
type RetryConfig struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable decides whether an error is transient. Nil uses IsTransient.
	Retryable func(error) bool
}

// ErrValidation marks parameter validation failures.
var ErrValidation = errors.New("parameter validation failed")

// ErrToolNotFound is returned for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolExists is returned when a tool name is registered twice.
var ErrToolExists = errors.New("tool already registered")

// ErrTimeout is returned when a tool exceeds its deadline.
var ErrTimeout = errors.New("tool execution timeout")

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools    map[string]*ToolDefinition
	schemas  map[string]*gojsonschema.Schema
	logger   zerolog.Logger
	observer Observer
	retry    RetryConfig
	mu       sync.RWMutex
}

// Option configures a ToolExecutor.
type Option func(*ToolExecutor)

// WithLogger sets the executor's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(te *ToolExecutor) { te.logger = logger }
}

// WithObserver sets the request observer.
func WithObserver(o Observer) Option {
	return func(te *ToolExecutor) { te.observer = o }
}

// New creates a new ToolExecutor
func New(opts ...Option) *ToolExecutor {
	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(te)
	}
	return te
}

// SetRetryConfig replaces the retry policy used by ExecuteWithRetry.
func (te *ToolExecutor) SetRetryConfig(cfg RetryConfig) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.retry = cfg
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, ok := te.tools[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	te.logger.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	result := te.execute(ctx, toolName, params, execCtx)

	if te.observer != nil {
		te.observer.ObserveRequest(toolName, time.Since(startTime), result.Err)
	}
	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	logger := te.logger.With().Str("tool", toolName).Logger()
	if execCtx != nil && execCtx.RequestID != "" {
		logger = logger.With().Str("request_id", execCtx.RequestID).Logger()
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		logger.Warn().Msg("Tool not found")
		err := fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
		return ToolResult{Success: false, Error: err.Error(), Err: err}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := te.validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return ToolResult{Success: false, Error: err.Error(), Err: err}
	}

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(startTime)
		meta := map[string]interface{}{"duration": duration.Milliseconds()}

		if out.err != nil {
			logger.Error().Dur("duration", duration).Err(out.err).Msg("Tool execution failed")
			return ToolResult{Success: false, Error: out.err.Error(), Metadata: meta, Err: out.err}
		}

		logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
		return ToolResult{Success: true, Output: out.result, Metadata: meta}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		logger.Error().Dur("duration", duration).Msg("Tool execution timeout")

		err := fmt.Errorf("%w after %v", ErrTimeout, timeout)
		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			Metadata: map[string]interface{}{"duration": duration.Milliseconds()},
			Err:      err,
		}
	}
}

// ExecuteWithRetry runs Execute and retries transient failures with exponential
// backoff. Validation and unknown-tool errors are never retried.
func (te *ToolExecutor) ExecuteWithRetry(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	te.mu.RLock()
	cfg := te.retry
	te.mu.RUnlock()

	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return te.Execute(ctx, toolName, params, execCtx)
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	var result ToolResult
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result = te.Execute(ctx, toolName, params, execCtx)
		if result.Success || attempt == cfg.MaxAttempts || !retryable(result.Err) {
			if attempt > 1 {
				if result.Metadata == nil {
					result.Metadata = map[string]interface{}{}
				}
				result.Metadata["retry_attempts"] = attempt - 1
			}
			return result
		}

		te.logger.Debug().
			Str("tool", toolName).
			Int("attempt", attempt).
			Err(result.Err).
			Msg("Retrying transient tool failure")

		select {
		case <-ctx.Done():
			return result
		case <-time.After(backoff):
		}
		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return result
}

// IsTransient reports whether err looks like a temporary failure worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrValidation) || errors.Is(err, ErrToolNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "database is locked", "busy", "connection refused", "temporarily"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum is only supported for string parameter %s", param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !result.Valid() {
		msgs := []string{}
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}

	return nil
}
