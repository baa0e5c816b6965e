package models

import "strings"

// Status is the pipeline state of an item. It is the only field that governs control flow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusExtracting Status = "extracting"
	StatusAnalyzing  Status = "analyzing"
	StatusStoring    Status = "storing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Pipeline order. Failed has no rank: it is reachable from any non-terminal state.
var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusExtracting,
	StatusAnalyzing,
	StatusStoring,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if !normalized.Valid() {
		return "", false
	}
	return normalized, true
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusFailed || s.Rank() >= 0
}

// IsTerminal reports whether s is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank is the position of s in the pipeline, or -1 for failed and unknown values.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusExtracting:
		return 2
	case StatusAnalyzing:
		return 3
	case StatusStoring:
		return 4
	case StatusCompleted:
		return 5
	case StatusFailed:
		return -1
	}
	return -1
}

// CanTransition reports whether the state machine allows from -> to.
// Staying in the same non-terminal state is allowed; it carries progress.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return to.Rank() >= from.Rank()
}

// Label is the human-readable name shown next to an item.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Queued"
	case StatusProcessing:
		return "Processing"
	case StatusExtracting:
		return "Extracting"
	case StatusAnalyzing:
		return "Analyzing"
	case StatusStoring:
		return "Storing"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// Icon is a single-glyph badge for s.
func (s Status) Icon() string {
	switch s {
	case StatusPending:
		return "…"
	case StatusProcessing:
		return "⚙"
	case StatusExtracting:
		return "⇣"
	case StatusAnalyzing:
		return "◎"
	case StatusStoring:
		return "▤"
	case StatusCompleted:
		return "✓"
	case StatusFailed:
		return "✗"
	}
	return "?"
}
