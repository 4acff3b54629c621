package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/schema"
)

// DefaultTimeout bounds a tool execution when the tool sets no tighter limit
const DefaultTimeout = 30 * time.Second

const tracerName = "confer/toolexecutor"

var (
	// ErrToolNotFound is returned by Resolve for unknown tool names
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when a name is registered twice
	ErrDuplicateTool = errors.New("tool already registered")

	toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
)

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry holds the tools available to an agent
type Registry struct {
	tools   map[string]*entry
	policy  *ToolPolicy
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithPolicy restricts which tools are advertised and executable
func WithPolicy(policy *ToolPolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = policy
	}
}

// WithDefaultTimeout overrides DefaultTimeout
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger
func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]*entry),
		timeout: DefaultTimeout,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "toolexecutor").Logger()
	return r
}

// RegisterDefinition registers a function tool
func (r *Registry) RegisterDefinition(def ToolDefinition) error {
	if def.Handler == nil {
		return fmt.Errorf("invalid tool definition: tool handler cannot be nil")
	}
	return r.Register(def.asTool())
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) error {
	compiled, err := validateTool(tool)
	if err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name())
	}
	r.tools[tool.Name()] = &entry{tool: tool, schema: compiled}

	r.logger.Info().Str("tool", tool.Name()).Msg("Tool registered")
	return nil
}

// Resolve returns the tool registered under name
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok || !r.policy.IsToolAllowed(name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.tool, nil
}

// Names returns the allowed tool names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if r.policy.IsToolAllowed(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the advertised tool descriptions sorted by name
func (r *Registry) Descriptors() []schema.ToolDescriptor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.ToolDescriptor, 0, len(names))
	for _, name := range names {
		t := r.tools[name].tool
		out = append(out, schema.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Execute runs a tool call and reports the outcome as data
func (r *Registry) Execute(ctx context.Context, req schema.ToolCallRequest) schema.ToolResult {
	result := schema.ToolResult{CallID: req.CallID, Name: req.Name}
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, tracerName, "tool.execute",
		attribute.String("tool", req.Name),
		attribute.String("call_id", req.CallID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", req.Name).Logger()

	finish := func() schema.ToolResult {
		duration := time.Since(start)
		observability.RecordToolExecution(req.Name, duration, !result.Failed())
		if result.Failed() {
			span.SetStatus(codes.Error, result.Error)
			logger.Warn().Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
		} else {
			logger.Debug().Dur("duration", duration).Int("bytes", len(result.Content)).Msg("Tool execution completed")
		}
		return result
	}

	r.mu.RLock()
	e, ok := r.tools[req.Name]
	allowed := r.policy.IsToolAllowed(req.Name)
	r.mu.RUnlock()

	if !ok || !allowed {
		result.Error = fmt.Sprintf("Tool '%s' not found.", req.Name)
		return finish()
	}

	args, err := decodeArguments(req)
	if err != nil {
		result.Error = err.Error()
		return finish()
	}
	logger.Debug().Interface("arguments", args).Msg("Executing tool")

	if err := validateArguments(e.schema, args); err != nil {
		result.Error = fmt.Sprintf("invalid arguments for tool %s: %v", req.Name, err)
		return finish()
	}

	content, err := r.invoke(ctx, e.tool, args)
	if err != nil {
		result.Error = err.Error()
		if strings.TrimSpace(result.Error) == "" {
			result.Error = fmt.Sprintf("tool %s failed", req.Name)
		}
		return finish()
	}
	result.Content = content
	return finish()
}

type outcome struct {
	content string
	err     error
}

func (r *Registry) invoke(ctx context.Context, tool Tool, args map[string]any) (string, error) {
	timeout := r.timeout
	if tt, ok := tool.(TimeoutTool); ok && tt.Timeout() > 0 {
		timeout = tt.Timeout()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)}
			}
		}()
		content, err := tool.Execute(timeoutCtx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		return out.content, out.err
	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("tool %s timed out after %v", tool.Name(), timeout)
		}
		return "", fmt.Errorf("tool %s cancelled: %w", tool.Name(), timeoutCtx.Err())
	}
}

func decodeArguments(req schema.ToolCallRequest) (map[string]any, error) {
	if req.Arguments != nil {
		return req.Arguments, nil
	}
	if strings.TrimSpace(req.RawArguments) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(req.RawArguments), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for tool %s: %w", req.Name, err)
	}
	if args == nil {
		return nil, fmt.Errorf("invalid arguments for tool %s: arguments must be a JSON object", req.Name)
	}
	return args, nil
}

// validateTool checks a tool's metadata and compiles its parameter schema
func validateTool(tool Tool) (*gojsonschema.Schema, error) {
	if tool == nil {
		return nil, fmt.Errorf("tool cannot be nil")
	}
	if !toolNamePattern.MatchString(tool.Name()) {
		return nil, fmt.Errorf("invalid tool name %q", tool.Name())
	}
	if tool.Description() == "" {
		return nil, fmt.Errorf("tool description cannot be empty")
	}

	params := tool.Parameters()
	if params == nil {
		return nil, nil
	}
	if typ, ok := params["type"]; ok && typ != "object" {
		return nil, fmt.Errorf("parameters of %s must describe an object", tool.Name())
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", tool.Name(), err)
	}
	return compiled, nil
}

func validateArguments(compiled *gojsonschema.Schema, args map[string]any) error {
	if compiled == nil {
		return nil
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
