package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryStatusHasLabelAndIcon(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.NotEqual(t, "Unknown", s.Label(), "status %q needs a label", s)
		assert.NotEqual(t, "?", s.Icon(), "status %q needs an icon", s)
		assert.True(t, s.Valid(), "status %q should be valid", s)
	}
	assert.Equal(t, "Unknown", Status("exploded").Label())
	assert.False(t, Status("exploded").Valid())
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"  Completed ", StatusCompleted, true},
		{"FAILED", StatusFailed, true},
		{"", "", false},
		{"queued", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to Status
		want     bool
	}{
		{"forward one", StatusPending, StatusProcessing, true},
		{"forward skip", StatusPending, StatusExtracting, true},
		{"same state", StatusAnalyzing, StatusAnalyzing, true},
		{"to completed", StatusStoring, StatusCompleted, true},
		{"fail from pending", StatusPending, StatusFailed, true},
		{"fail from storing", StatusStoring, StatusFailed, true},
		{"backward", StatusAnalyzing, StatusExtracting, false},
		{"out of completed", StatusCompleted, StatusFailed, false},
		{"out of failed", StatusFailed, StatusPending, false},
		{"completed to completed", StatusCompleted, StatusCompleted, false},
		{"unknown target", StatusPending, Status("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestLocalIDs(t *testing.T) {
	id := NewLocalID()
	assert.True(t, IsLocalID(id))
	assert.NotEqual(t, id, NewLocalID())

	assert.False(t, IsLocalID("3f1c2a9e-8d7b-4c6a-9e5f-1a2b3c4d5e6f"))
	assert.False(t, IsLocalID("local-xyz"))
	assert.False(t, IsLocalID("local-zzzzzzzzzzzz"))
}

func TestClassifyFilename(t *testing.T) {
	assert.Equal(t, ContentPDF, ClassifyFilename("Paper.PDF"))
	assert.Equal(t, ContentImage, ClassifyFilename("shot.png"))
	assert.Equal(t, ContentCode, ClassifyFilename("main.go"))
	assert.Equal(t, ContentText, ClassifyFilename("a.txt"))
	assert.Equal(t, ContentUnknown, ClassifyFilename("archive.tar.zst"))
}

func TestItemJSONFieldNames(t *testing.T) {
	item := Item{
		ID:               "abc",
		Source:           SourceText,
		ContentType:      ContentText,
		Status:           StatusCompleted,
		Progress:         100,
		CurrentStep:      "done",
		KeyInsights:      []string{"one"},
		RelevanceToHydra: "high",
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "source", "content_type", "status", "progress",
		"current_step", "key_insights", "relevance_to_hydra", "created_at"} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "summary", "empty result fields are omitted")
}

func TestProgressUpdateCarriesOnlyProgressFields(t *testing.T) {
	u := ProgressUpdate(ProgressEvent{ID: "x", Progress: 40, Step: "reading", Status: StatusExtracting})
	require.NotNil(t, u.Progress)
	require.NotNil(t, u.Status)
	require.NotNil(t, u.CurrentStep)
	assert.Equal(t, 40, *u.Progress)
	assert.Equal(t, StatusExtracting, *u.Status)
	assert.Equal(t, "reading", *u.CurrentStep)
	assert.Nil(t, u.Summary)
	assert.Nil(t, u.Tags)
}
