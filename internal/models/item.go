// Package models defines data structures for tracked ingestion items.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// Source identifies how content entered the inbox. Fixed at creation.
type Source string

const (
	SourceUpload    Source = "upload"
	SourceClipboard Source = "clipboard"
	SourceURL       Source = "url"
	SourceText      Source = "text"
)

// ContentType is a presentation-only classification of submitted content.
type ContentType string

const (
	ContentImage    ContentType = "image"
	ContentPDF      ContentType = "pdf"
	ContentDocument ContentType = "document"
	ContentCode     ContentType = "code"
	ContentURL      ContentType = "url"
	ContentText     ContentType = "text"
	ContentUnknown  ContentType = "unknown"
)

var extensionTypes = map[string]ContentType{
	".png": ContentImage, ".jpg": ContentImage, ".jpeg": ContentImage,
	".gif": ContentImage, ".webp": ContentImage, ".bmp": ContentImage,
	".pdf":  ContentPDF,
	".doc":  ContentDocument, ".docx": ContentDocument, ".odt": ContentDocument,
	".rtf":  ContentDocument, ".md": ContentDocument,
	".go":   ContentCode, ".py": ContentCode, ".js": ContentCode, ".ts": ContentCode,
	".rs":   ContentCode, ".java": ContentCode, ".c": ContentCode, ".cpp": ContentCode,
	".sh":   ContentCode, ".rb": ContentCode,
	".txt":  ContentText, ".log": ContentText, ".csv": ContentText,
}

// ClassifyFilename guesses a content type from a file extension.
func ClassifyFilename(name string) ContentType {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return ContentUnknown
}

// Item is one tracked unit of submitted content.
type Item struct {
	ID          string      `json:"id"`
	Source      Source      `json:"source"`
	ContentType ContentType `json:"content_type"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"current_step"`

	// Result fields, populated by the full-record fetch after completion.
	Title            string   `json:"title,omitempty"`
	Filename         string   `json:"filename,omitempty"`
	URL              string   `json:"url,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	KeyInsights      []string `json:"key_insights,omitempty"`
	ActionItems      []string `json:"action_items,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	RelevanceToHydra string   `json:"relevance_to_hydra,omitempty"`

	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsTerminal reports whether the item can no longer change status.
func (i Item) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// Clone returns a deep copy so callers can't alias registry slices.
func (i Item) Clone() Item {
	i.KeyInsights = cloneStrings(i.KeyInsights)
	i.ActionItems = cloneStrings(i.ActionItems)
	i.Tags = cloneStrings(i.Tags)
	return i
}

// DisplayName picks the most descriptive label available.
func (i Item) DisplayName() string {
	switch {
	case i.Title != "":
		return i.Title
	case i.Filename != "":
		return i.Filename
	case i.URL != "":
		return i.URL
	default:
		return i.ID
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// ProgressEvent is one message on an item's progress channel.
type ProgressEvent struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
	Step     string `json:"step"`
	Status   Status `json:"status"`
}

// localIDPrefix marks ids minted client-side. The service issues UUIDs.
const localIDPrefix = "local-"

// NewLocalID returns an identifier the Ingestion Service never issues.
func NewLocalID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return localIDPrefix + hex.EncodeToString(b[:])
}

// IsLocalID reports whether id was produced by NewLocalID.
func IsLocalID(id string) bool {
	rest, ok := strings.CutPrefix(id, localIDPrefix)
	if !ok || len(rest) != 12 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
