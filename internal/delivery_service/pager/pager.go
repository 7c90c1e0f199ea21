// Package pager splits a logical message body into physical SMS-sized segments.
// Segmentation is deterministic for a given (body, limit): the outcome recorder's
// idempotence key includes the segment index and relies on that.
package pager

import (
	"errors"
)

// ErrInvalidLimit is returned for a non-positive per-segment character budget.
var ErrInvalidLimit = errors.New("segment character limit must be positive")

// Segment is one physical SMS-sized chunk of a message body. Index is 1-based.
type Segment struct {
	Index int
	Text  string
}

// Paginate splits body into ordered segments of at most limit characters (runes,
// so multi-byte text never splits mid-character). A body that fits in one segment
// still yields exactly one segment; pagination is never skipped for bookkeeping.
// Rejoining the segment texts in order reconstructs the body exactly.
func Paginate(body string, limit int) ([]Segment, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	runes := []rune(body)
	if len(runes) <= limit {
		return []Segment{{Index: 1, Text: body}}, nil
	}

	segments := make([]Segment, 0, (len(runes)+limit-1)/limit)
	for start, idx := 0, 1; start < len(runes); start, idx = start+limit, idx+1 {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, Segment{Index: idx, Text: string(runes[start:end])})
	}
	return segments, nil
}
