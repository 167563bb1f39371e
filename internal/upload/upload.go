// Package upload sends file attachments to the chat file endpoint over
// multipart HTTP, reporting integer percent progress and supporting
// cancellation by attachment id.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"campuschat-client/internal/models"

	"github.com/google/uuid"
)

var (
	ErrFileTooLarge = errors.New("upload: file exceeds configured size limit")
	ErrCanceled     = errors.New("upload: canceled")
)

// ProgressFunc receives integer percent values 0-100. It is never called
// again after the upload reaches a terminal state.
type ProgressFunc func(percent int)

// Request describes one file to upload. AttachmentID is generated when
// empty; set it up front if you need to Cancel from another goroutine.
type Request struct {
	AttachmentID string
	Name         string
	MimeType     string
	Size         int64
	Data         io.Reader
}

// Uploader posts attachments to a fixed endpoint.
type Uploader struct {
	endpoint string
	maxSize  int64
	client   *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New returns an uploader for the given endpoint. maxSize <= 0 disables
// the size gate.
func New(endpoint string, maxSize int64) *Uploader {
	return &Uploader{
		endpoint: endpoint,
		maxSize:  maxSize,
		client:   &http.Client{},
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Cancel aborts an in-flight upload. The corresponding Upload call returns
// with the attachment in the failed state; further progress callbacks stop.
func (u *Uploader) Cancel(attachmentID string) {
	u.mu.Lock()
	cancel, ok := u.cancels[attachmentID]
	u.mu.Unlock()
	if ok {
		cancel()
	}
}

// Upload posts one file and blocks until it completes, fails, or is
// canceled. On success the returned attachment is completed and carries
// the retrievable URL; on any failure it is returned in the failed state
// alongside the error.
func (u *Uploader) Upload(ctx context.Context, req Request, onProgress ProgressFunc) (models.Attachment, error) {
	att := models.Attachment{
		ID:           req.AttachmentID,
		Name:         req.Name,
		Size:         req.Size,
		MimeType:     req.MimeType,
		UploadStatus: models.UploadUploading,
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}

	if u.maxSize > 0 && req.Size > u.maxSize {
		att.UploadStatus = models.UploadFailed
		return att, ErrFileTooLarge
	}

	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancels[att.ID] = cancel
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		delete(u.cancels, att.ID)
		u.mu.Unlock()
		cancel()
	}()

	body, contentType, err := u.buildBody(ctx, att, req, onProgress)
	if err != nil {
		att.UploadStatus = models.UploadFailed
		if errors.Is(err, context.Canceled) {
			return att, ErrCanceled
		}
		return att, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		att.UploadStatus = models.UploadFailed
		return att, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		att.UploadStatus = models.UploadFailed
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return att, ErrCanceled
		}
		return att, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		att.UploadStatus = models.UploadFailed
		return att, fmt.Errorf("upload: server returned %s", resp.Status)
	}

	var result struct {
		URL          string `json:"url"`
		ThumbnailURL string `json:"thumbnailUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		att.UploadStatus = models.UploadFailed
		return att, fmt.Errorf("upload: decode response: %w", err)
	}

	att.URL = result.URL
	att.ThumbnailURL = result.ThumbnailURL
	att.UploadStatus = models.UploadCompleted
	att.Progress = 100
	if onProgress != nil {
		onProgress(100)
	}
	return att, nil
}

// buildBody assembles the multipart payload, wiring the file part through
// a progress-counting reader.
func (u *Uploader) buildBody(ctx context.Context, att models.Attachment, req Request, onProgress ProgressFunc) (io.Reader, string, error) {
	// The whole part set is buffered before the request goes out; progress
	// therefore tracks reading the source, which for local files is the
	// dominant portion the UI cares about.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("attachmentId", att.ID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("mimeType", req.MimeType); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", req.Name)
	if err != nil {
		return nil, "", err
	}

	src := io.Reader(&ctxReader{ctx: ctx, r: req.Data})
	if onProgress != nil && req.Size > 0 {
		src = &progressReader{r: src, total: req.Size, report: onProgress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ctxReader aborts a read loop once its context is canceled, so Cancel
// interrupts uploads still draining their local source.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

// progressReader reports integer percent values as the source drains,
// monotonically and at most once per distinct value. It never reports 100;
// the caller does that on terminal success.
type progressReader struct {
	r      io.Reader
	total  int64
	seen   int64
	last   int
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.seen += int64(n)
		pct := int(p.seen * 100 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
