package tools

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/leoric-crown/shared-context-server/pkg/api"
	"github.com/leoric-crown/shared-context-server/pkg/audit"
	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/memory"
	"github.com/leoric-crown/shared-context-server/pkg/search"
	"github.com/leoric-crown/shared-context-server/pkg/session"
	"github.com/leoric-crown/shared-context-server/pkg/telemetry"
)

// Services bundles every component the tool surface dispatches into. It's
// constructed once at startup and passed into NewRegistry; individual
// handlers never reach for a global.
type Services struct {
	Identity  *identity.Service
	Sessions  *session.Service
	Memory    *memory.Store
	Search    *search.Engine
	Telemetry *telemetry.Collector
	Audit     *audit.Recorder
}

// NewRegistry builds the full tool surface bound to services.
func NewRegistry(services *Services) *Registry {
	r := newEmptyRegistry()
	r.auditor = services.Audit

	recordAuth := func(ctx context.Context, agentID, eventType string, opErr error) {
		if services.Audit == nil {
			return
		}
		result := audit.ResultSuccess
		details := map[string]any{}
		if opErr != nil {
			result = audit.ResultError
			details["error"] = opErr.Error()
		}
		_ = services.Audit.Record(ctx, audit.Record{
			AgentID:   agentID,
			EventType: eventType,
			Result:    result,
			Details:   details,
		})
	}

	r.register(&Tool{
		Name:        "authenticate_agent",
		Description: "Exchange an agent_id and agent_type for a bearer token.",
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"agent_id":    stringProp("Caller-chosen stable identifier for this agent."),
			"agent_type":  enumProp("The agent's type.", "generic", "claude", "gemini", "custom", "admin", "system", "test"),
			"permissions": arrayProp("Requested permissions; read/write/debug/admin. Unknown or disallowed entries are silently dropped.", stringProp("A permission name.")),
		}, "agent_id", "agent_type")),
		Handler: func(ctx context.Context, _ identity.Identity, args map[string]any) Envelope {
			agentID, err := argString(args, "agent_id", true)
			if err != nil {
				return Fail(err)
			}
			agentType, err := argString(args, "agent_type", true)
			if err != nil {
				return Fail(err)
			}
			requested := permissionsFromArgs(args)

			res, err := services.Identity.Authenticate(ctx, agentID, identity.AgentType(agentType), requested)
			recordAuth(ctx, agentID, "authenticate_agent", err)
			if err != nil {
				return Fail(err)
			}
			return Ok(res)
		},
	})

	r.register(&Tool{
		Name:        "refresh_token",
		Description: "Rotate a bearer token before it expires.",
		Schema:      buildSchema(object(map[string]*jsonschema.Schema{"token": stringProp("The current bearer token.")}, "token")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			token, err := argString(args, "token", true)
			if err != nil {
				return Fail(err)
			}
			res, err := services.Identity.Refresh(ctx, token)
			recordAuth(ctx, caller.AgentID, "refresh_token", err)
			if err != nil {
				return Fail(err)
			}
			return Ok(res)
		},
	})

	r.register(&Tool{
		Name:               "create_session",
		Description:        "Create a new shared session.",
		RequiredPermission: identity.PermissionWrite,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"purpose":  stringProp("Human-readable description of the session's purpose."),
			"metadata": objectProp("Arbitrary JSON-serializable metadata."),
		}, "purpose")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			purpose, err := argString(args, "purpose", true)
			if err != nil {
				return Fail(err)
			}
			metadata, err := argObject(args, "metadata")
			if err != nil {
				return Fail(err)
			}
			sess, err := services.Sessions.CreateSession(ctx, caller, purpose, metadata)
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{
				"session_id": sess.ID,
				"created_at": sess.CreatedAt,
			})
		},
	})

	r.register(&Tool{
		Name:               "get_session",
		Description:        "Fetch a session's metadata by id.",
		RequiredPermission: identity.PermissionRead,
		Schema:             buildSchema(object(map[string]*jsonschema.Schema{"session_id": stringProp("The session id.")}, "session_id")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			sess, err := services.Sessions.GetSession(ctx, caller, sessionID)
			if err != nil {
				return Fail(err)
			}
			return Ok(sess)
		},
	})

	r.register(&Tool{
		Name:               "add_message",
		Description:        "Post a message to a session.",
		RequiredPermission: identity.PermissionWrite,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id":        stringProp("The session id."),
			"content":           stringProp("The message content."),
			"visibility":        enumProp("Who may read this message (default public).", "public", "private", "agent_only", "admin_only"),
			"message_type":      enumProp("The message's category.", "agent_response", "system", "error", "admin"),
			"metadata":          objectProp("Arbitrary JSON-serializable metadata."),
			"parent_message_id": intProp("Reserved for future use; must be omitted or null."),
		}, "session_id", "content")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			content, err := argString(args, "content", true)
			if err != nil {
				return Fail(err)
			}
			visibility, err := argString(args, "visibility", false)
			if err != nil {
				return Fail(err)
			}
			if visibility == "" {
				visibility = string(session.VisibilityPublic)
			}
			messageType, err := argString(args, "message_type", false)
			if err != nil {
				return Fail(err)
			}
			metadata, err := argObject(args, "metadata")
			if err != nil {
				return Fail(err)
			}
			if raw, ok := args["parent_message_id"]; ok && raw != nil {
				return Fail(sctxerrors.Validation("\"parent_message_id\" is not supported yet; omit it or pass null"))
			}

			msg, err := services.Sessions.AddMessage(ctx, caller, sessionID, session.NewMessageInput{
				Content:     content,
				Visibility:  session.Visibility(visibility),
				MessageType: session.MessageType(messageType),
				Metadata:    metadata,
			})
			if err != nil {
				return Fail(err)
			}
			if services.Search != nil {
				_ = services.Search.Index(*msg)
			}
			return Ok(map[string]any{
				"message_id": msg.ID,
				"timestamp":  msg.Timestamp,
			})
		},
	})

	r.register(&Tool{
		Name:               "get_messages",
		Description:        "Fetch a page of a session's messages, newest-last.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id":        stringProp("The session id."),
			"limit":             intProp("Max messages to return (default 50, max 500)."),
			"offset":            intProp("Number of messages to skip."),
			"visibility_filter": enumProp("Only return messages of this visibility (intersected with what the caller may see).", "public", "private", "agent_only", "admin_only"),
		}, "session_id")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", api.DefaultLimit)
			if err != nil {
				return Fail(err)
			}
			limit = api.NormalizeLimit(limit)
			offset, err := argInt(args, "offset", 0)
			if err != nil {
				return Fail(err)
			}
			if offset < 0 {
				return Fail(sctxerrors.Validation(`"offset" must not be negative`))
			}
			visFilter, err := argString(args, "visibility_filter", false)
			if err != nil {
				return Fail(err)
			}

			msgs, total, err := services.Sessions.GetMessages(ctx, caller, sessionID, session.Visibility(visFilter), limit, offset)
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{
				"messages": msgs,
				"metadata": api.PaginateMessages(msgs, offset, total),
			})
		},
	})

	r.register(&Tool{
		Name:               "get_messages_since",
		Description:        "Fetch messages added after a given message id.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id":       stringProp("The session id."),
			"since_message_id": intProp("Return messages with id greater than this."),
			"limit":            intProp("Max messages to return (default 50, max 500)."),
		}, "session_id", "since_message_id")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			sinceID, err := argInt64(args, "since_message_id", 0)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", api.DefaultLimit)
			if err != nil {
				return Fail(err)
			}
			limit = api.NormalizeLimit(limit)

			msgs, err := services.Sessions.GetMessagesSince(ctx, caller, sessionID, sinceID, limit)
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"messages": msgs})
		},
	})

	r.register(&Tool{
		Name:               "search_context",
		Description:        "Fuzzy full-text search over a session's message content.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id":      stringProp("The session id."),
			"query":           stringProp("The search text."),
			"fuzzy_threshold": numberProp("Minimum relevance score from 0 to 100 (default 60)."),
			"limit":           intProp("Max results to return (default 10, max 50)."),
			"search_metadata": boolProp("Also match against message metadata (default false)."),
			"search_scope":    enumProp("Restrict to a visibility category (default all).", "all", "public", "private", "agent_only"),
		}, "session_id", "query")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			q, err := argString(args, "query", true)
			if err != nil {
				return Fail(err)
			}
			threshold, err := argFloat64(args, "fuzzy_threshold", 60.0)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", 10)
			if err != nil {
				return Fail(err)
			}
			if limit <= 0 {
				limit = 10
			} else if limit > 50 {
				limit = 50
			}
			searchMetadata, err := argBool(args, "search_metadata", false)
			if err != nil {
				return Fail(err)
			}
			scope, err := argString(args, "search_scope", false)
			if err != nil {
				return Fail(err)
			}

			results, err := services.Search.SearchContext(ctx, sessionID, caller, search.ContextQuery{
				Text:           q,
				Limit:          limit,
				FuzzyThreshold: threshold,
				SearchMetadata: searchMetadata,
				Scope:          search.Scope(scope),
			})
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"results": results})
		},
	})

	r.register(&Tool{
		Name:               "search_by_sender",
		Description:        "Find a session's messages from a given sender.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id": stringProp("The session id."),
			"sender":     stringProp("The sender's agent id (normalized: case- and separator-insensitive)."),
			"limit":      intProp("Max results to return (default 50, max 500)."),
		}, "session_id", "sender")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			sender, err := argString(args, "sender", true)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", api.DefaultLimit)
			if err != nil {
				return Fail(err)
			}
			results, err := services.Search.SearchBySender(ctx, sessionID, sender, caller, api.NormalizeLimit(limit))
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"results": results})
		},
	})

	r.register(&Tool{
		Name:               "search_by_timerange",
		Description:        "Find a session's messages within a time range.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"session_id": stringProp("The session id."),
			"start_time": stringProp("RFC3339 start of range, inclusive."),
			"end_time":   stringProp("RFC3339 end of range, inclusive."),
			"limit":      intProp("Max results to return (default 100, max 500)."),
		}, "session_id", "start_time", "end_time")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			sessionID, err := argString(args, "session_id", true)
			if err != nil {
				return Fail(err)
			}
			start, err := argTime(args, "start_time", true)
			if err != nil {
				return Fail(err)
			}
			end, err := argTime(args, "end_time", true)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", 100)
			if err != nil {
				return Fail(err)
			}
			results, err := services.Search.SearchByTimerange(ctx, sessionID, start, end, caller, api.NormalizeLimit(limit))
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"results": results})
		},
	})

	r.register(&Tool{
		Name:               "set_memory",
		Description:        "Store a value under a key in the caller's own memory.",
		RequiredPermission: identity.PermissionWrite,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"key":        stringProp("The memory key."),
			"value":      anyProp("Any JSON-serializable value."),
			"session_id": stringProp("Optional session id to scope this entry to."),
			"expires_in": intOrStringProp("Optional time-to-live in seconds; accepts an integer or a numeric string."),
			"overwrite":  boolProp("Whether to overwrite an existing key (default true)."),
		}, "key", "value")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			key, err := argString(args, "key", true)
			if err != nil {
				return Fail(err)
			}
			value, ok := args["value"]
			if !ok {
				return Fail(sctxerrors.Validation(`"value" is required`))
			}
			sessionID, err := argOptionalStringPtr(args, "session_id")
			if err != nil {
				return Fail(err)
			}
			expiresIn, err := argIntLoose(args, "expires_in", 0)
			if err != nil {
				return Fail(err)
			}
			overwrite, err := argBool(args, "overwrite", true)
			if err != nil {
				return Fail(err)
			}

			entry, err := services.Memory.Set(ctx, caller.AgentID, sessionID, key, value, expiresInToDuration(expiresIn), overwrite)
			recordAuth(ctx, caller.AgentID, "set_memory", err)
			if err != nil {
				return Fail(err)
			}
			return Ok(entry)
		},
	})

	r.register(&Tool{
		Name:               "get_memory",
		Description:        "Fetch a value from the caller's own memory.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"key":        stringProp("The memory key."),
			"session_id": stringProp("Optional session id the entry was scoped to."),
		}, "key")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			key, err := argString(args, "key", true)
			if err != nil {
				return Fail(err)
			}
			sessionID, err := argOptionalStringPtr(args, "session_id")
			if err != nil {
				return Fail(err)
			}
			entry, err := services.Memory.Get(ctx, caller.AgentID, sessionID, key)
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{
				"key":        entry.Key,
				"value":      entry.Value,
				"updated_at": entry.UpdatedAt,
				"expires_at": entry.ExpiresAt,
			})
		},
	})

	r.register(&Tool{
		Name:               "list_memory",
		Description:        "List the caller's own memory entries, optionally filtered by key prefix.",
		RequiredPermission: identity.PermissionRead,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"prefix":     stringProp("Only return keys beginning with this prefix."),
			"session_id": stringProp("Optional session id to scope the listing to."),
			"limit":      intProp("Max entries to return (default 50)."),
		})),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			prefix, err := argString(args, "prefix", false)
			if err != nil {
				return Fail(err)
			}
			sessionID, err := argOptionalStringPtr(args, "session_id")
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", memory.DefaultListLimit)
			if err != nil {
				return Fail(err)
			}
			entries, err := services.Memory.List(ctx, caller.AgentID, sessionID, prefix, limit)
			if err != nil {
				return Fail(err)
			}
			items := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				scope := "global"
				if e.SessionID != nil {
					scope = "session"
				}
				items = append(items, map[string]any{
					"key":        e.Key,
					"scope":      scope,
					"session_id": e.SessionID,
					"updated_at": e.UpdatedAt,
					"expires_at": e.ExpiresAt,
				})
			}
			return Ok(map[string]any{"entries": items, "count": len(items)})
		},
	})

	r.register(&Tool{
		Name:               "delete_memory",
		Description:        "Delete a key from the caller's own memory.",
		RequiredPermission: identity.PermissionWrite,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"key":        stringProp("The memory key."),
			"session_id": stringProp("Optional session id the entry was scoped to."),
		}, "key")),
		Handler: func(ctx context.Context, caller identity.Identity, args map[string]any) Envelope {
			key, err := argString(args, "key", true)
			if err != nil {
				return Fail(err)
			}
			sessionID, err := argOptionalStringPtr(args, "session_id")
			if err != nil {
				return Fail(err)
			}
			if _, err := services.Memory.Get(ctx, caller.AgentID, sessionID, key); err != nil {
				recordAuth(ctx, caller.AgentID, "delete_memory", err)
				return Fail(err)
			}
			err = services.Memory.Delete(ctx, caller.AgentID, sessionID, key)
			recordAuth(ctx, caller.AgentID, "delete_memory", err)
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"deleted": true})
		},
	})

	r.register(&Tool{
		Name:               "audit_query",
		Description:        "Query the append-only audit log by time range, agent, and session.",
		RequiredPermission: identity.PermissionAdmin,
		Schema: buildSchema(object(map[string]*jsonschema.Schema{
			"since":      stringProp("RFC3339 start of range, inclusive."),
			"until":      stringProp("RFC3339 end of range, inclusive."),
			"agent_id":   stringProp("Filter to audit records for this agent."),
			"session_id": stringProp("Filter to audit records for this session."),
			"limit":      intProp("Max records to return (default 100, max 1000)."),
		})),
		Handler: func(ctx context.Context, _ identity.Identity, args map[string]any) Envelope {
			since, err := argTime(args, "since", false)
			if err != nil {
				return Fail(err)
			}
			until, err := argTime(args, "until", false)
			if err != nil {
				return Fail(err)
			}
			agentID, err := argString(args, "agent_id", false)
			if err != nil {
				return Fail(err)
			}
			sessionID, err := argString(args, "session_id", false)
			if err != nil {
				return Fail(err)
			}
			limit, err := argInt(args, "limit", 100)
			if err != nil {
				return Fail(err)
			}

			records, err := services.Audit.Query(ctx, audit.Query{
				Since:     since,
				Until:     until,
				AgentID:   agentID,
				SessionID: sessionID,
				Limit:     limit,
			})
			if err != nil {
				return Fail(err)
			}
			return Ok(map[string]any{"records": records})
		},
	})

	r.register(&Tool{
		Name:          "get_performance_metrics",
		Description:   "Report operation counters, latency percentiles, cache hit ratio, and pool stats.",
		AnyPermission: []identity.Permission{identity.PermissionDebug, identity.PermissionAdmin},
		Schema:        buildSchema(object(nil)),
		Handler: func(_ context.Context, _ identity.Identity, _ map[string]any) Envelope {
			return Ok(services.Telemetry.PerformanceMetrics())
		},
	})

	r.register(&Tool{
		Name:               "get_usage_guidance",
		Description:        "Return the static usage guide for this tool surface.",
		RequiredPermission: identity.PermissionRead,
		Schema:             buildSchema(object(nil)),
		Handler: func(_ context.Context, _ identity.Identity, _ map[string]any) Envelope {
			return Ok(map[string]any{"guidance": telemetry.UsageGuidance})
		},
	})

	return r
}

func permissionsFromArgs(args map[string]any) []identity.Permission {
	raw, ok := args["permissions"].([]any)
	if !ok {
		return nil
	}
	out := make([]identity.Permission, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, identity.Permission(s))
		}
	}
	return out
}

func expiresInToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
