// Package tools implements the Tool Surface: the registry of RPC-style
// operations agents call, each bound to an input schema, a required
// permission, and a handler.
package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/leoric-crown/shared-context-server/pkg/audit"
	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
)

// Tool binds a name to its input schema, required permission, and handler.
// RequiredPermission is empty for tools callable before authentication
// (authenticate_agent itself). AnyPermission, when non-empty, overrides
// RequiredPermission and passes the check if the caller holds any one of
// the listed permissions (used by tools the spec lists as "debug/admin").
type Tool struct {
	Name               string
	Description        string
	Schema             *jsonschema.Resolved
	RequiredPermission identity.Permission
	AnyPermission      []identity.Permission
	Handler            func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope
}

func (t *Tool) permitted(caller identity.Identity) bool {
	if len(t.AnyPermission) > 0 {
		for _, p := range t.AnyPermission {
			if caller.Has(p) {
				return true
			}
		}
		return false
	}
	return t.RequiredPermission == "" || caller.Has(t.RequiredPermission)
}

// Registry is the full set of tools exposed to agents.
type Registry struct {
	tools   map[string]*Tool
	auditor *audit.Recorder
}

func newEmptyRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// OperationRecorder is satisfied by telemetry.Collector.
type OperationRecorder interface {
	RecordOperation(ctx context.Context, operation string, dur time.Duration, ok bool)
}

// DefaultCallDeadline is the per-call deadline the transport is expected to
// grant every tool invocation absent its own shorter budget.
const DefaultCallDeadline = 30 * time.Second

// Invoke validates args against the tool's schema, checks the caller holds
// the required permission, runs the handler under a bounded deadline, and
// records the outcome.
func Invoke(ctx context.Context, r *Registry, rec OperationRecorder, name string, caller identity.Identity, args map[string]any) Envelope {
	start := time.Now()
	if args == nil {
		args = map[string]any{}
	}
	tool, ok := r.Get(name)
	if !ok {
		return Fail(sctxerrors.NotFound("unknown tool: " + name))
	}

	if !tool.permitted(caller) {
		var failErr error
		if caller.AgentID == "" {
			failErr = sctxerrors.AuthRequired("authentication required for " + name)
		} else {
			failErr = sctxerrors.PermissionDenied("missing required permission for " + name)
		}
		if r.auditor != nil {
			_ = r.auditor.Record(ctx, audit.Record{
				AgentID:   caller.AgentID,
				EventType: name,
				Result:    audit.ResultDenied,
			})
		}
		env := Fail(failErr)
		if rec != nil {
			rec.RecordOperation(ctx, name, time.Since(start), false)
		}
		return env
	}

	if tool.Schema != nil {
		if err := tool.Schema.Validate(args); err != nil {
			env := Fail(sctxerrors.Validation("invalid arguments: " + err.Error()))
			if rec != nil {
				rec.RecordOperation(ctx, name, time.Since(start), false)
			}
			return env
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultCallDeadline)
	defer cancel()

	env := tool.Handler(callCtx, caller, args)
	if !env.Success && callCtx.Err() == context.DeadlineExceeded {
		env = Fail(sctxerrors.Timeout("tool call exceeded its deadline: " + name))
	}
	if rec != nil {
		rec.RecordOperation(ctx, name, time.Since(start), env.Success)
	}
	return env
}
