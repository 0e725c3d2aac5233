package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Content Classification --

// ContentType is the tag the classifier assigns to whatever the viewer is currently showing.
type ContentType string

const (
	ContentImage     ContentType = "image"
	ContentVideo     ContentType = "video"
	ContentEndMarker ContentType = "end_marker"
	ContentUnknown   ContentType = "unknown"
)

// MediaFormat is the inferred format of a resolved media reference.
type MediaFormat string

const (
	FormatImage MediaFormat = "image"
	FormatVideo MediaFormat = "video"
)

// -- Session Termination --

// SessionStatus is the terminal status of one walk. The set is closed; callers
// are expected to switch over every value.
type SessionStatus string

const (
	StatusSuccess         SessionStatus = "SUCCESS"
	StatusNoContent       SessionStatus = "NO_CONTENT"
	StatusStuckOnItem     SessionStatus = "STUCK_ON_ITEM"
	StatusTooManyFailures SessionStatus = "TOO_MANY_FAILURES"
	StatusSafetyLimit     SessionStatus = "SAFETY_LIMIT"
	StatusError           SessionStatus = "ERROR"
)

// AllStatuses lists every terminal status in a stable order.
var AllStatuses = []SessionStatus{
	StatusSuccess,
	StatusNoContent,
	StatusStuckOnItem,
	StatusTooManyFailures,
	StatusSafetyLimit,
	StatusError,
}

// ParseSessionStatus converts a stored or user supplied string back to a SessionStatus.
func ParseSessionStatus(s string) (SessionStatus, error) {
	candidate := SessionStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Restartable reports whether a fresh invocation resumed after this status may make more progress.
func (s SessionStatus) Restartable() bool {
	return s == StatusStuckOnItem
}

// -- Extracted Records --

// MediaReference is a resolved media URL plus, once extracted, where the bytes live.
// It is immutable after creation.
type MediaReference struct {
	URL         string      `json:"url,omitempty"`
	Format      MediaFormat `json:"format"`
	Handle      string      `json:"handle,omitempty"`
	Ordinal     int         `json:"ordinal"`
	ContentType string      `json:"content_type,omitempty"`
	Size        int         `json:"size,omitempty"`
}

// Item is one post or story encountered during a session. Items are appended to
// the session log in extraction order and never mutated afterwards.
type Item struct {
	ID                       string           `json:"item_id"`
	Target                   string           `json:"target"`
	Platform                 string           `json:"platform"`
	Sequence                 int              `json:"sequence"`
	ContentType              ContentType      `json:"content_type"`
	SourceURL                string           `json:"source_url,omitempty"`
	Caption                  string           `json:"caption,omitempty"`
	Timestamp                string           `json:"timestamp,omitempty"`
	Links                    []string         `json:"links,omitempty"`
	EmbedLinks               []string         `json:"embed_links,omitempty"`
	Media                    []MediaReference `json:"media,omitempty"`
	MediaFromFallbackCapture bool             `json:"media_from_fallback_capture"`
	ExtractionFailed         bool             `json:"extraction_failed"`
	DiagnosticSnapshot       string           `json:"diagnostic_snapshot,omitempty"`
	ScrapedAt                time.Time        `json:"scraped_at"`
}

// NavigationOutcome describes one advance attempt. It is consumed immediately and never persisted.
type NavigationOutcome struct {
	Success    bool
	EndReached bool
	Err        error
}

// SessionResult is the stable contract handed back to whoever started the walk.
// Items collected before termination are always present, whatever the status.
type SessionResult struct {
	SessionID  string        `json:"session_id"`
	Target     string        `json:"target"`
	Platform   string        `json:"platform"`
	Status     SessionStatus `json:"status"`
	Items      []Item        `json:"items"`
	LastIndex  int           `json:"last_index"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Duration is the wall clock time the walk took.
func (r SessionResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
