package tools

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joescharf/continuity/internal/models"
	"github.com/joescharf/continuity/internal/registry"
)

// previousNamespace is the switch target that returns to the remembered namespace.
const previousNamespace = "-"

func namespaceOf(st *registry.State, ns string) string {
	if ns != "" {
		return ns
	}
	if st != nil && st.Namespace() != "" {
		return st.Namespace()
	}
	return models.DefaultNamespace
}

func entryResult(e *models.ContextEntry) map[string]any {
	out := map[string]any{
		"key":       e.Key,
		"namespace": e.Namespace,
		"value":     rawValue(e.Value),
		"stored_at": formatTime(e.StoredAt),
	}
	if e.ExpiresAt != nil {
		out["expires_at"] = timePtr(e.ExpiresAt)
	}
	return out
}

// context_store
func contextStoreTool() mcp.Tool {
	return mcp.NewTool("context_store",
		mcp.WithDescription("Store a value under a key in a namespace, overwriting any existing value. Omitted namespace means the current one."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key, unique within the namespace")),
		withAny("value", mcp.Required(), mcp.Description("Value, any JSON value")),
		mcp.WithNumber("ttl", mcp.Description("Seconds until the entry expires; omit or 0 for no expiry"), mcp.Min(0)),
		mcp.WithString("namespace", mcp.Description("Namespace; defaults to the current context")),
	)
}

type contextStoreParams struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	TTL       float64         `json:"ttl"`
	Namespace string          `json:"namespace"`
}

func (s *Service) handleContextStore(ctx context.Context, st *registry.State, p contextStoreParams) (any, error) {
	if p.TTL < 0 {
		return nil, invalidArg("ttl must not be negative")
	}
	nanos := p.TTL * float64(time.Second)
	if nanos >= math.MaxInt64 {
		return nil, invalidArg("ttl is too large")
	}
	ns := namespaceOf(st, p.Namespace)
	// Round up so a positive ttl never becomes "no expiry".
	ttl := time.Duration(math.Ceil(nanos))

	e, err := s.backend.WriteContext(ctx, ns, p.Key, rawValue(p.Value), ttl)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"success":   true,
		"key":       e.Key,
		"namespace": e.Namespace,
		"stored_at": formatTime(e.StoredAt),
	}
	if e.ExpiresAt != nil {
		out["expires_at"] = timePtr(e.ExpiresAt)
	}
	return out, nil
}

// context_retrieve
func contextRetrieveTool() mcp.Tool {
	return mcp.NewTool("context_retrieve",
		mcp.WithDescription("Retrieve a stored value. Expired or missing keys are a resource-not-found error."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key")),
		mcp.WithString("namespace", mcp.Description("Namespace; defaults to the current context")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type contextKeyParams struct {
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
}

func (s *Service) handleContextRetrieve(ctx context.Context, st *registry.State, p contextKeyParams) (any, error) {
	e, err := s.backend.ReadContext(ctx, namespaceOf(st, p.Namespace), p.Key)
	if err != nil {
		return nil, err
	}
	out := entryResult(e)
	out["success"] = true
	return out, nil
}

// context_switch
func contextSwitchTool() mcp.Tool {
	return mcp.NewTool("context_switch",
		mcp.WithDescription(`Make another namespace current for this connection. With preserve_current the old namespace is remembered; target "-" switches back to it.`),
		mcp.WithString("target_context", mcp.Required(), mcp.Description(`Namespace to switch to, or "-" for the remembered one`)),
		mcp.WithBoolean("preserve_current", mcp.Description("Remember the current namespace for a later switch back")),
	)
}

type contextSwitchParams struct {
	TargetContext   string `json:"target_context"`
	PreserveCurrent bool   `json:"preserve_current"`
}

func (s *Service) handleContextSwitch(ctx context.Context, st *registry.State, p contextSwitchParams) (any, error) {
	if st == nil {
		st = registry.NewState("", models.DefaultNamespace)
	}
	target := p.TargetContext
	if target == previousNamespace {
		target = st.Previous()
		if target == "" {
			return nil, invalidArg("no previous context to switch back to")
		}
	}

	entries, err := s.backend.ListContexts(ctx, target, false)
	if err != nil {
		return nil, err
	}
	prev := st.Switch(target, p.PreserveCurrent)

	return map[string]any{
		"success":          true,
		"previous_context": prev,
		"context_loaded":   target,
		"entry_count":      len(entries),
		"preserved":        p.PreserveCurrent,
	}, nil
}

// context_delete
func contextDeleteTool() mcp.Tool {
	return mcp.NewTool("context_delete",
		mcp.WithDescription("Delete a stored key. Deleting a missing key succeeds."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key")),
		mcp.WithString("namespace", mcp.Description("Namespace; defaults to the current context")),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
}

func (s *Service) handleContextDelete(ctx context.Context, st *registry.State, p contextKeyParams) (any, error) {
	ns := namespaceOf(st, p.Namespace)
	existed, err := s.backend.DeleteContext(ctx, ns, p.Key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"key":       p.Key,
		"namespace": ns,
		"existed":   existed,
	}, nil
}

// context_list
func contextListTool() mcp.Tool {
	return mcp.NewTool("context_list",
		mcp.WithDescription("List the entries of a namespace."),
		mcp.WithString("namespace", mcp.Description("Namespace; defaults to the current context")),
		mcp.WithBoolean("include_expired", mcp.Description("Include entries past their expiry")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

type contextListParams struct {
	Namespace      string `json:"namespace"`
	IncludeExpired bool   `json:"include_expired"`
}

func (s *Service) handleContextList(ctx context.Context, st *registry.State, p contextListParams) (any, error) {
	ns := namespaceOf(st, p.Namespace)
	entries, err := s.backend.ListContexts(ctx, ns, p.IncludeExpired)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := entryResult(e)
		item["expired"] = e.Expired(now)
		out = append(out, item)
	}
	return map[string]any{
		"namespace": ns,
		"entries":   out,
		"count":     len(out),
	}, nil
}
