// Package api holds response-shaping helpers shared by the tool surface:
// pagination metadata over a session's message log.
package api

import (
	"github.com/leoric-crown/shared-context-server/pkg/session"
)

const DefaultLimit = 50

const MaxLimit = 500

// PaginationMetadata describes a page of messages returned alongside the
// page itself. NextCursor, when present, is the message_id to pass as
// since_message_id to fetch the next page.
type PaginationMetadata struct {
	TotalCount int   `json:"total_count"`
	Returned   int   `json:"returned"`
	HasMore    bool  `json:"has_more"`
	NextCursor int64 `json:"next_cursor,omitempty"`
}

// NormalizeLimit clamps a caller-supplied limit to (0, MaxLimit], defaulting
// to DefaultLimit when the caller didn't specify one.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// PaginateMessages builds PaginationMetadata for one page of the caller's
// visible messages. page is assumed ordered ascending by (timestamp, id);
// offset is the number of visible messages skipped before it and totalCount
// the full visible count, both as reported by the session service after
// visibility filtering.
func PaginateMessages(page []session.Message, offset, totalCount int) PaginationMetadata {
	meta := PaginationMetadata{
		TotalCount: totalCount,
		Returned:   len(page),
	}
	if offset+len(page) < totalCount {
		meta.HasMore = true
		if len(page) > 0 {
			meta.NextCursor = page[len(page)-1].ID
		}
	}
	return meta
}
