package inbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/raphaelgruber/hydra-inbox/internal/client"
	"github.com/raphaelgruber/hydra-inbox/internal/metrics"
	"github.com/raphaelgruber/hydra-inbox/internal/models"
)

// Validation errors. They become the error text of a local failed item.
var (
	errNoFileName  = errors.New("file name is required")
	errEmptyFile   = errors.New("file is empty")
	errEmptyImage  = errors.New("clipboard image is empty")
	errBadImage    = errors.New("clipboard image is not valid base64")
	errEmptyText   = errors.New("text is empty")
	errBadURL      = errors.New("url must be an absolute http or https address")
	errMissingID   = errors.New("service accepted the submission without an id")
	errNilAccepted = errors.New("service returned no item")
)

// SubmitOptions accompany a submission.
type SubmitOptions struct {
	Topic string
}

// submission is what the inbox knows about an item before the service does.
type submission struct {
	source      models.Source
	contentType models.ContentType
	title       string
	filename    string
	url         string
}

// SubmitFile sends one file. The returned item is either pending with a
// service id or failed with a local id; it is never an error.
func (in *Inbox) SubmitFile(ctx context.Context, file client.FilePayload, opts SubmitOptions) models.Item {
	s := submission{
		source:      models.SourceUpload,
		contentType: models.ClassifyFilename(file.Name),
		filename:    file.Name,
	}
	switch {
	case strings.TrimSpace(file.Name) == "":
		return in.reject(ctx, s, errNoFileName)
	case len(file.Data) == 0:
		return in.reject(ctx, s, errEmptyFile)
	}
	return in.submit(ctx, s, func(ctx context.Context) (*models.Item, error) {
		return in.deps.Ingestor.SubmitFile(ctx, file, opts.Topic)
	})
}

// SubmitFiles sends each file independently and in order. A failure on one
// file does not affect the others. Cancelling ctx stops the batch; items
// already returned stay tracked.
func (in *Inbox) SubmitFiles(ctx context.Context, files []client.FilePayload, opts SubmitOptions) []models.Item {
	items := make([]models.Item, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		items = append(items, in.SubmitFile(ctx, f, opts))
	}
	return items
}

// SubmitClipboardImage sends base64 image data. A data: URL prefix is
// stripped before sending.
func (in *Inbox) SubmitClipboardImage(ctx context.Context, imageBase64 string, opts SubmitOptions) models.Item {
	s := submission{source: models.SourceClipboard, contentType: models.ContentImage}

	data := strings.TrimSpace(imageBase64)
	if _, rest, ok := strings.Cut(data, ";base64,"); ok && strings.HasPrefix(data, "data:") {
		data = rest
	}
	if data == "" {
		return in.reject(ctx, s, errEmptyImage)
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return in.reject(ctx, s, errBadImage)
	}
	return in.submit(ctx, s, func(ctx context.Context) (*models.Item, error) {
		return in.deps.Ingestor.SubmitClipboardImage(ctx, data, opts.Topic)
	})
}

// SubmitURL sends a link for fetching and analysis.
func (in *Inbox) SubmitURL(ctx context.Context, rawURL string, opts SubmitOptions) models.Item {
	rawURL = strings.TrimSpace(rawURL)
	s := submission{source: models.SourceURL, contentType: models.ContentURL, url: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return in.reject(ctx, s, errBadURL)
	}
	return in.submit(ctx, s, func(ctx context.Context) (*models.Item, error) {
		return in.deps.Ingestor.SubmitURL(ctx, rawURL, opts.Topic)
	})
}

// SubmitText sends pasted text with an optional title.
func (in *Inbox) SubmitText(ctx context.Context, text, title string, opts SubmitOptions) models.Item {
	s := submission{source: models.SourceText, contentType: models.ContentText, title: title}
	if strings.TrimSpace(text) == "" {
		return in.reject(ctx, s, errEmptyText)
	}
	return in.submit(ctx, s, func(ctx context.Context) (*models.Item, error) {
		return in.deps.Ingestor.SubmitText(ctx, text, title, opts.Topic)
	})
}

func (in *Inbox) submit(ctx context.Context, s submission, call func(context.Context) (*models.Item, error)) models.Item {
	in.Start(ctx)

	var accepted *models.Item
	err := in.metrics.Time(metrics.OpSubmit, func() error {
		var err error
		accepted, err = call(ctx)
		return err
	})
	switch {
	case err != nil:
	case accepted == nil:
		err = errNilAccepted
	case accepted.ID == "":
		err = errMissingID
	}
	if err != nil {
		return in.reject(ctx, s, err)
	}

	item := in.pendingItem(s, *accepted)
	in.reg.Add(item)
	in.metrics.Inc(metrics.CountAccepted)
	in.logger.Info("submission accepted", "id", item.ID, "source", item.Source, "content_type", item.ContentType)

	in.persist(ctx)
	in.notify(in.opts.OnUpdate, item)
	in.Subscribe(item.ID, Handlers{})
	return item
}

// pendingItem normalizes the service's acceptance into the initial state.
func (in *Inbox) pendingItem(s submission, accepted models.Item) models.Item {
	item := accepted.Clone()
	item.Source = s.source
	if item.ContentType == "" || item.ContentType == models.ContentUnknown {
		item.ContentType = s.contentType
	}
	item.Status = models.StatusPending
	item.Progress = 0
	item.CurrentStep = string(models.StatusPending)
	item.Error = ""
	item.Title = firstNonEmpty(item.Title, s.title)
	item.Filename = firstNonEmpty(item.Filename, s.filename)
	item.URL = firstNonEmpty(item.URL, s.url)
	item.CreatedAt = in.deps.Now()
	return item
}

// reject records a submission that never reached the pipeline.
func (in *Inbox) reject(ctx context.Context, s submission, cause error) models.Item {
	in.Start(ctx)

	item := models.Item{
		ID:          models.NewLocalID(),
		Source:      s.source,
		ContentType: s.contentType,
		Status:      models.StatusFailed,
		CurrentStep: string(models.StatusFailed),
		Title:       s.title,
		Filename:    s.filename,
		URL:         s.url,
		Error:       submitError(cause),
		CreatedAt:   in.deps.Now(),
	}
	in.reg.Add(item)
	in.metrics.Inc(metrics.CountRejected)
	in.logger.Warn("submission rejected", "id", item.ID, "source", item.Source, "error", cause)

	in.persist(ctx)
	in.notify(in.opts.OnUpdate, item)
	return item
}

func submitError(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("submission aborted: %v", err)
	}
	return err.Error()
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
