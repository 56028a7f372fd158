// ABOUTME: Explicit registry mapping tool names to typed handlers
// ABOUTME: Populated once at startup, looked up by exact name at dispatch time

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidArguments indicates the call arguments do not satisfy the tool's
// declared input schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Definition describes a tool to callers: its name and the JSON schema its
// arguments must satisfy.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Content is one element of a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the structured outcome of a tool execution. A tool that ran but
// failed reports IsError true; it is not a protocol fault.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult builds a successful single-text result.
func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult builds a failed single-text result.
func ErrorResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

// Handler is a named, schema-described unit of functionality invocable with
// structured arguments.
type Handler interface {
	// Describe returns the tool's definition, including its input schema.
	Describe() Definition

	// Execute runs the tool. A domain failure is reported in the Result with
	// IsError set; a returned error means the tool could not run at all.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Registry is the explicit name-to-handler mapping dispatched by the MCP
// bridge and the gateway. Registration happens once at startup; lookups are
// safe for unlimited concurrent callers.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Handler
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Handler),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a handler under its declared name.
// Returns ErrToolCollision if the name is taken.
func (r *Registry) Register(h Handler) error {
	def := h.Describe()
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolCollision, def.Name)
	}
	r.tools[def.Name] = h

	r.logger.Debug("tool registered", "tool_name", def.Name, "total_tools", len(r.tools))
	return nil
}

// MustRegister registers a handler and panics on collision. Startup only.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// List returns every registered definition, sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, h := range r.tools {
		defs = append(defs, h.Describe())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call validates args against the tool's schema and executes it. Not-found
// and invalid-argument conditions surface as errors for the dispatcher to
// classify; a tool that ran but failed comes back as a Result with IsError.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (Result, error) {
	h, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	def := h.Describe()
	if err := ValidateArguments(def.InputSchema, args); err != nil {
		return Result{}, err
	}

	result, err := h.Execute(ctx, args)
	if err != nil {
		// Tool ran and failed: uniform error envelope, never a thrown fault
		r.logger.Warn("tool execution failed", "tool_name", name, "error", err)
		return ErrorResult(err.Error()), nil
	}
	return result, nil
}
