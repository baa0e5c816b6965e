// Package client provides a GraphQL client for the Ingestion Service.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// DefaultEndpoint is used when no server URL is configured.
const DefaultEndpoint = "http://localhost:8484/query"

// ErrNotFound is returned by GetStatus when the service has no record for an id.
var ErrNotFound = errors.New("item not found")

// Client is a GraphQL client for the Ingestion Service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new GraphQL client. An empty endpoint falls back to
// DefaultEndpoint and a non-positive timeout to 10 minutes, which leaves room
// for large uploads.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the HTTP endpoint the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Execute sends a GraphQL query/mutation and returns the result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// =============================================================================
// TYPES (matching GraphQL schema)
// =============================================================================

// itemFields is the selection set shared by every operation returning an item.
const itemFields = `
	id source contentType status progress currentStep
	title filename url summary keyInsights actionItems tags relevanceToHydra
	error createdAt
`

// ItemRecord is an item as the service serializes it.
type ItemRecord struct {
	ID               string     `json:"id"`
	Source           string     `json:"source"`
	ContentType      string     `json:"contentType"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStep      *string    `json:"currentStep,omitempty"`
	Title            *string    `json:"title,omitempty"`
	Filename         *string    `json:"filename,omitempty"`
	URL              *string    `json:"url,omitempty"`
	Summary          *string    `json:"summary,omitempty"`
	KeyInsights      []string   `json:"keyInsights"`
	ActionItems      []string   `json:"actionItems"`
	Tags             []string   `json:"tags"`
	RelevanceToHydra *string    `json:"relevanceToHydra,omitempty"`
	Error            *string    `json:"error,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
}

// Item converts the wire record into a model item. Unknown statuses map to
// pending so a newer server can't push the local state machine off its enum.
func (r ItemRecord) Item() models.Item {
	status, ok := models.ParseStatus(r.Status)
	if !ok {
		status = models.StatusPending
	}
	contentType := models.ContentType(r.ContentType)
	if contentType == "" {
		contentType = models.ContentUnknown
	}

	item := models.Item{
		ID:               r.ID,
		Source:           models.Source(r.Source),
		ContentType:      contentType,
		Status:           status,
		Progress:         r.Progress,
		CurrentStep:      deref(r.CurrentStep),
		Title:            deref(r.Title),
		Filename:         deref(r.Filename),
		URL:              deref(r.URL),
		Summary:          deref(r.Summary),
		KeyInsights:      r.KeyInsights,
		ActionItems:      r.ActionItems,
		Tags:             r.Tags,
		RelevanceToHydra: deref(r.RelevanceToHydra),
		Error:            deref(r.Error),
	}
	if item.CurrentStep == "" {
		item.CurrentStep = string(status)
	}
	if r.CreatedAt != nil {
		item.CreatedAt = *r.CreatedAt
	}
	return item
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FilePayload is a file-like binary upload.
type FilePayload struct {
	Name string
	Data []byte
}

// =============================================================================
// SUBMIT OPERATIONS
// =============================================================================

func withTopic(vars map[string]any, topic string) map[string]any {
	if topic != "" {
		vars["topic"] = topic
	}
	return vars
}

// SubmitFile uploads a binary file for ingestion.
func (c *Client) SubmitFile(ctx context.Context, file FilePayload, topic string) (*models.Item, error) {
	const query = `
		mutation SubmitFile($filename: String!, $content: String!, $topic: String) {
			submitFile(filename: $filename, content: $content, topic: $topic) {` + itemFields + `}
		}
	`

	vars := withTopic(map[string]any{
		"filename": file.Name,
		"content":  base64.StdEncoding.EncodeToString(file.Data),
	}, topic)

	var result struct {
		SubmitFile ItemRecord `json:"submitFile"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return nil, err
	}
	item := result.SubmitFile.Item()
	return &item, nil
}

// SubmitClipboardImage uploads a base64-encoded image captured from the clipboard.
func (c *Client) SubmitClipboardImage(ctx context.Context, imageBase64, topic string) (*models.Item, error) {
	const query = `
		mutation SubmitClipboardImage($image: String!, $topic: String) {
			submitClipboardImage(image: $image, topic: $topic) {` + itemFields + `}
		}
	`

	var result struct {
		SubmitClipboardImage ItemRecord `json:"submitClipboardImage"`
	}
	if err := c.Execute(ctx, query, withTopic(map[string]any{"image": imageBase64}, topic), &result); err != nil {
		return nil, err
	}
	item := result.SubmitClipboardImage.Item()
	return &item, nil
}

// SubmitURL asks the service to fetch and ingest a URL.
func (c *Client) SubmitURL(ctx context.Context, rawURL, topic string) (*models.Item, error) {
	const query = `
		mutation SubmitURL($url: String!, $topic: String) {
			submitUrl(url: $url, topic: $topic) {` + itemFields + `}
		}
	`

	var result struct {
		SubmitURL ItemRecord `json:"submitUrl"`
	}
	if err := c.Execute(ctx, query, withTopic(map[string]any{"url": rawURL}, topic), &result); err != nil {
		return nil, err
	}
	item := result.SubmitURL.Item()
	return &item, nil
}

// SubmitText ingests a raw text blob with an optional title.
func (c *Client) SubmitText(ctx context.Context, text, title, topic string) (*models.Item, error) {
	const query = `
		mutation SubmitText($text: String!, $title: String, $topic: String) {
			submitText(text: $text, title: $title, topic: $topic) {` + itemFields + `}
		}
	`

	vars := map[string]any{"text": text}
	if title != "" {
		vars["title"] = title
	}

	var result struct {
		SubmitText ItemRecord `json:"submitText"`
	}
	if err := c.Execute(ctx, query, withTopic(vars, topic), &result); err != nil {
		return nil, err
	}
	item := result.SubmitText.Item()
	return &item, nil
}

// =============================================================================
// STATUS OPERATIONS
// =============================================================================

// GetStatus retrieves the full record for an item.
func (c *Client) GetStatus(ctx context.Context, id string) (*models.Item, error) {
	const query = `
		query GetStatus($id: ID!) {
			item(id: $id) {` + itemFields + `}
		}
	`

	var result struct {
		Item *ItemRecord `json:"item"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	item := result.Item.Item()
	return &item, nil
}
