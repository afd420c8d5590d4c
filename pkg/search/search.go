// Package search implements the Search Engine: per-session fuzzy full-text
// search, sender lookup, and time-range queries over a session's message
// log, using an in-memory Bleve index per session.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
	"github.com/leoric-crown/shared-context-server/pkg/identity"
	"github.com/leoric-crown/shared-context-server/pkg/session"
)

const maxQueryLen = 1000

// backfillCap bounds how many stored messages a session's index is seeded
// with on first access after a restart.
const backfillCap = 10_000

// Result is one search hit: the underlying message, its relevance score
// (1.0 for non-scored lookups like search_by_sender and search_by_timerange,
// which aren't ranked), and which indexed fields matched the query.
type Result struct {
	Message       session.Message `json:"message"`
	Score         float64         `json:"score"`
	MatchedFields []string        `json:"matched_fields,omitempty"`
}

// Scope restricts search_context to a visibility category, applied in
// addition to (not instead of) the caller's own visibility entitlement.
type Scope string

const (
	ScopeAll       Scope = "all"
	ScopePublic    Scope = "public"
	ScopePrivate   Scope = "private"
	ScopeAgentOnly Scope = "agent_only"
)

func ValidScope(s Scope) bool {
	switch s {
	case "", ScopeAll, ScopePublic, ScopePrivate, ScopeAgentOnly:
		return true
	default:
		return false
	}
}

func scopeAllows(msg session.Message, scope Scope) bool {
	switch scope {
	case "", ScopeAll:
		return true
	case ScopePublic:
		return msg.Visibility == session.VisibilityPublic
	case ScopePrivate:
		return msg.Visibility == session.VisibilityPrivate
	case ScopeAgentOnly:
		return msg.Visibility == session.VisibilityAgentOnly
	default:
		return false
	}
}

// ContextQuery is the input to SearchContext, mirroring the documented
// search_context(session_id, query, fuzzy_threshold, limit, search_metadata,
// search_scope) signature minus session_id, which is passed separately.
type ContextQuery struct {
	Text           string
	Limit          int
	FuzzyThreshold float64
	SearchMetadata bool
	Scope          Scope
}

// MessageSource seeds a session's index from durable storage the first time
// the session is searched, so hits survive a process restart. Satisfied by
// *session.Store.
type MessageSource interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]session.Message, error)
}

type sessionIndex struct {
	idx      bleve.Index
	mu       sync.RWMutex
	messages map[string]session.Message // docID -> message, for rematerializing hits
}

// Engine holds one in-memory Bleve index per session, seeded from the
// MessageSource on first access and kept current via Index as messages are
// appended.
type Engine struct {
	source   MessageSource
	mu       sync.RWMutex
	sessions map[string]*sessionIndex
}

// NewEngine builds an Engine over source. A nil source skips backfill and
// index-existence checks; every message must then be fed in via Index.
func NewEngine(source MessageSource) *Engine {
	return &Engine{source: source, sessions: make(map[string]*sessionIndex)}
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := mapping.NewIndexMapping()

	doc := mapping.NewDocumentMapping()
	content := mapping.NewTextFieldMapping()
	content.Analyzer = "en"
	doc.AddFieldMappingsAt("content", content)

	sender := mapping.NewTextFieldMapping()
	sender.Analyzer = "keyword"
	doc.AddFieldMappingsAt("sender_normalized", sender)

	metadata := mapping.NewTextFieldMapping()
	metadata.Analyzer = "en"
	doc.AddFieldMappingsAt("metadata", metadata)

	doc.AddFieldMappingsAt("timestamp", mapping.NewDateTimeFieldMapping())

	im.DefaultMapping = doc
	return im
}

func (e *Engine) sessionFor(ctx context.Context, sessionID string) (*sessionIndex, error) {
	e.mu.RLock()
	si, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if ok {
		return si, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if si, ok := e.sessions[sessionID]; ok {
		return si, nil
	}

	var seed []session.Message
	if e.source != nil {
		if _, err := e.source.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
		msgs, err := e.source.GetMessages(ctx, sessionID, backfillCap, 0)
		if err != nil {
			return nil, err
		}
		seed = msgs
	}

	idx, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, sctxerrors.Internal("", fmt.Errorf("creating search index for session %s: %w", sessionID, err))
	}
	si = &sessionIndex{idx: idx, messages: make(map[string]session.Message)}
	for _, msg := range seed {
		if err := si.index(msg); err != nil {
			return nil, err
		}
	}
	e.sessions[sessionID] = si
	return si, nil
}

type document struct {
	Content          string    `json:"content"`
	SenderNormalized string    `json:"sender_normalized"`
	Metadata         string    `json:"metadata"`
	Timestamp        time.Time `json:"timestamp"`
}

func docID(msg session.Message) string {
	return fmt.Sprintf("%d", msg.ID)
}

// Index adds msg to its session's search index. Indexing the same message
// twice is harmless: the second write replaces the first under the same id.
func (e *Engine) Index(msg session.Message) error {
	e.mu.Lock()
	si, ok := e.sessions[msg.SessionID]
	if !ok {
		// First sight of this session without a search having touched it
		// yet; the eventual sessionFor backfill will pick this message up
		// from storage along with everything else.
		if e.source != nil {
			e.mu.Unlock()
			return nil
		}
		idx, err := bleve.NewMemOnly(newIndexMapping())
		if err != nil {
			e.mu.Unlock()
			return sctxerrors.Internal("", fmt.Errorf("creating search index for session %s: %w", msg.SessionID, err))
		}
		si = &sessionIndex{idx: idx, messages: make(map[string]session.Message)}
		e.sessions[msg.SessionID] = si
	}
	e.mu.Unlock()

	return si.index(msg)
}

func (si *sessionIndex) index(msg session.Message) error {
	id := docID(msg)
	var metadataText string
	if len(msg.Metadata) > 0 {
		if b, err := json.Marshal(msg.Metadata); err == nil {
			metadataText = string(b)
		}
	}
	doc := document{
		Content:          msg.Content,
		SenderNormalized: NormalizeSender(msg.Sender),
		Metadata:         metadataText,
		Timestamp:        msg.Timestamp,
	}

	si.mu.Lock()
	defer si.mu.Unlock()
	if err := si.idx.Index(id, doc); err != nil {
		return sctxerrors.Internal("", fmt.Errorf("indexing message %d: %w", msg.ID, err))
	}
	si.messages[id] = msg
	return nil
}

// NormalizeSender lowercases a sender name and collapses separators so
// "Agent-One", "agent_one", and "agent one" all match the same search term.
func NormalizeSender(sender string) string {
	replacer := strings.NewReplacer("-", " ", "_", " ")
	collapsed := replacer.Replace(strings.ToLower(sender))
	fields := strings.Fields(collapsed)
	return strings.Join(fields, " ")
}

func (si *sessionIndex) runSearch(req *bleve.SearchRequest, caller identity.Identity, limit int) ([]Result, error) {
	searchResult, err := si.idx.Search(req)
	if err != nil {
		return nil, sctxerrors.Internal("", fmt.Errorf("search failed: %w", err))
	}

	si.mu.RLock()
	defer si.mu.RUnlock()

	out := make([]Result, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		msg, ok := si.messages[hit.ID]
		if !ok || !session.Visible(msg, caller) {
			continue
		}
		out = append(out, Result{Message: msg, Score: 1.0})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SearchContext runs a fuzzy full-text query over a session's message
// content (and, when requested, its metadata), filtered to what the caller
// is entitled to see and to the requested scope, remaps Bleve's relevance
// score onto a 0-100 scale, keeps hits at or above FuzzyThreshold, and
// breaks ties by (score desc, timestamp desc, id desc).
func (e *Engine) SearchContext(ctx context.Context, sessionID string, caller identity.Identity, q ContextQuery) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" || len(text) > maxQueryLen {
		return nil, sctxerrors.Validation("query must be 1..1000 characters")
	}
	if q.FuzzyThreshold < 0 || q.FuzzyThreshold > 100 {
		return nil, sctxerrors.Validation("fuzzy_threshold must be between 0 and 100")
	}
	if !ValidScope(q.Scope) {
		return nil, sctxerrors.Validation("search_scope must be one of all, public, private, agent_only")
	}

	si, err := e.sessionFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	window := searchWindow(q.Limit)

	type hit struct {
		raw    float64
		fields []string
	}
	byDoc := make(map[string]*hit)

	mergeHits := func(field string) error {
		fq := bleve.NewMatchQuery(text)
		fq.SetField(field)
		fq.Fuzziness = 1

		req := bleve.NewSearchRequest(fq)
		req.Size = window
		result, err := si.idx.Search(req)
		if err != nil {
			return sctxerrors.Internal("", fmt.Errorf("search failed: %w", err))
		}
		for _, h := range result.Hits {
			if existing, ok := byDoc[h.ID]; ok {
				if h.Score > existing.raw {
					existing.raw = h.Score
				}
				existing.fields = append(existing.fields, field)
				continue
			}
			byDoc[h.ID] = &hit{raw: h.Score, fields: []string{field}}
		}
		return nil
	}

	if err := mergeHits("content"); err != nil {
		return nil, err
	}
	if q.SearchMetadata {
		if err := mergeHits("metadata"); err != nil {
			return nil, err
		}
	}

	si.mu.RLock()
	defer si.mu.RUnlock()

	type candidate struct {
		msg    session.Message
		raw    float64
		fields []string
	}
	candidates := make([]candidate, 0, len(byDoc))
	var maxRaw float64
	for docID, h := range byDoc {
		msg, ok := si.messages[docID]
		if !ok || !session.Visible(msg, caller) || !scopeAllows(msg, q.Scope) {
			continue
		}
		candidates = append(candidates, candidate{msg: msg, raw: h.raw, fields: h.fields})
		if h.raw > maxRaw {
			maxRaw = h.raw
		}
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score := normalizeScore(c.raw, maxRaw)
		if score < q.FuzzyThreshold {
			continue
		}
		out = append(out, Result{Message: c.msg, Score: score, MatchedFields: c.fields})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Message.Timestamp.Equal(out[j].Message.Timestamp) {
			return out[i].Message.Timestamp.After(out[j].Message.Timestamp)
		}
		return out[i].Message.ID > out[j].Message.ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// normalizeScore remaps a raw Bleve relevance score onto 0-100 via a bounded
// min-max normalization against the best score in the candidate set.
func normalizeScore(raw, maxRaw float64) float64 {
	if maxRaw <= 0 {
		return 0
	}
	score := 100 * raw / maxRaw
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// SearchBySender returns messages from a normalized sender name.
func (e *Engine) SearchBySender(ctx context.Context, sessionID, sender string, caller identity.Identity, limit int) ([]Result, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, sctxerrors.Validation("sender must not be empty")
	}

	si, err := e.sessionFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	q := bleve.NewMatchQuery(NormalizeSender(sender))
	q.SetField("sender_normalized")

	req := bleve.NewSearchRequest(q)
	req.Size = searchWindow(limit)
	req.SortBy([]string{"timestamp"})
	return si.runSearch(req, caller, limit)
}

// SearchByTimerange returns messages with a timestamp in [start, end], both
// bounds inclusive.
func (e *Engine) SearchByTimerange(ctx context.Context, sessionID string, start, end time.Time, caller identity.Identity, limit int) ([]Result, error) {
	if end.Before(start) {
		return nil, sctxerrors.Validation("end_time must not be before start_time")
	}

	si, err := e.sessionFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	inclusive := true
	var q query.Query = bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
	req := bleve.NewSearchRequest(q)
	req.Size = searchWindow(limit)
	req.SortBy([]string{"timestamp"})
	return si.runSearch(req, caller, limit)
}

// searchWindow asks Bleve for more hits than the caller's limit, since
// visibility filtering happens after the search and can drop hits.
func searchWindow(limit int) int {
	if limit <= 0 {
		limit = 50
	}
	return limit * 4
}
