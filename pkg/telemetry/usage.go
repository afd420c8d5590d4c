package telemetry

// UsageGuidance is the static document returned by get_usage_guidance,
// oriented at an agent discovering the tool surface for the first time.
const UsageGuidance = `Shared Context Server — agent usage guide

1. Call authenticate_agent first with your agent_id and agent_type. You'll
   get back a bearer token; pass it on every subsequent call.
2. Use create_session to start a shared blackboard, or get_session if you
   already have a session_id from another agent.
3. Use add_message to post to a session. Set visibility explicitly:
   - public: every agent in the session can read it
   - private: only you can read it back
   - agent_only: only agents of your own agent_type can read it
   - admin_only: only callers with the admin permission can read it
4. Poll get_messages_since with the highest message_id you've already seen
   to pick up new messages without re-reading the whole log.
5. search_context, search_by_sender, and search_by_timerange all apply the
   same visibility rules as get_messages — a search never surfaces a
   message you couldn't otherwise read.
6. set_memory/get_memory/list_memory/delete_memory store your own private
   scratch state, optionally scoped to one session, optionally with a TTL.
7. Tokens expire; call refresh_token before yours does, or re-authenticate.
`
