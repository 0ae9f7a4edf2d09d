// Package api uploads exported journals to a collector service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anchorcast/anchorcast/pkg/core"
)

const maxErrorBody = 512

// UploadMetadata describes the session an uploaded journal belongs to.
type UploadMetadata struct {
	SessionID string
	Manifest  string
	Duration  time.Duration
	Counts    map[core.LifecycleKind]int
}

// Events is the total number of journalled events.
func (m UploadMetadata) Events() int {
	n := 0
	for _, c := range m.Counts {
		n += c
	}
	return n
}

// metadataPart is the JSON form of UploadMetadata sent as the "metadata" part.
type metadataPart struct {
	SessionID   string                     `json:"sessionId"`
	Manifest    string                     `json:"manifest"`
	DurationSec float64                    `json:"durationSec"`
	Events      int                        `json:"events"`
	Counts      map[core.LifecycleKind]int `json:"counts,omitempty"`
}

// UploadResult is the collector's reply to an accepted journal.
type UploadResult struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// StatusError is returned when the collector answers with an unexpected status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Code, e.Body)
}

// Client handles communication with the journal collector.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client. apiKey is sent as a bearer token when set.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Healthcheck checks if the collector is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthcheck", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("healthcheck", resp)
	}
	return nil
}

// Upload streams an exported journal file with its metadata as a multipart
// form. A gzip export is sent as application/gzip.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) (UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	metadata, err := json.Marshal(metadataPart{
		SessionID:   meta.SessionID,
		Manifest:    meta.Manifest,
		DurationSec: meta.Duration.Seconds(),
		Events:      meta.Events(),
		Counts:      meta.Counts,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("encoding metadata: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := writeForm(writer, file, filepath.Base(filePath), metadata)
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/journals/add", pr)
	if err != nil {
		pr.Close()
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	// a rejecting collector may answer before reading the whole form
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return UploadResult{}, statusError("upload", resp)
	}
	if writeErr := <-errCh; writeErr != nil {
		return UploadResult{}, writeErr
	}

	var res UploadResult
	if ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); ct == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return UploadResult{}, fmt.Errorf("decoding upload reply: %w", err)
		}
	}
	return res, nil
}

func writeForm(w *multipart.Writer, file io.Reader, name string, metadata []byte) error {
	if err := w.WriteField("filename", name); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="metadata"`)
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := part.Write(metadata); err != nil {
		return err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", journalContentType(name))
	part, err = w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

func journalContentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	return "application/json"
}
