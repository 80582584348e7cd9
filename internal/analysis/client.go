package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	routeName          = "analyze"
	fileFieldName      = "files"
	tabularContentType = "text/csv"

	// InlineUploadLocation marks a dataset entry whose bytes travel as a file
	// part of the same request instead of a fetchable URL. The engine skips
	// fetching such entries.
	InlineUploadLocation = "Current Upload"
)

// Turn is one entry of the recent-history window sent to the engine.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DatasetRef points the engine at one tabular dataset, either by URL or via
// the inline-upload sentinel.
type DatasetRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Context is the serialized conversation context the engine receives in the
// "context" form field.
type Context struct {
	Messages []Turn       `json:"messages"`
	Datasets []DatasetRef `json:"datasets"`
}

// FilePart is one raw tabular upload accompanying the current turn.
type FilePart struct {
	Name string
	Data []byte
}

// Result carries the fields this service recognizes in an engine response.
// Anything beyond them is opaque; Raw preserves the body verbatim for storage.
type Result struct {
	Intent    string          `json:"intent,omitempty"`
	GraphType string          `json:"graph_type,omitempty"`
	ChartJS   json.RawMessage `json:"chartjs,omitempty"`
	Insights  string          `json:"insights,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Values    json.RawMessage `json:"values,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`

	raw []byte
}

// Raw returns the engine's response body exactly as received.
func (r *Result) Raw() []byte {
	return r.raw
}

// ResultFromRaw decodes a response body into a Result, preserving the body
// verbatim. Recognized fields are decoded best-effort.
func ResultFromRaw(raw []byte) *Result {
	result := &Result{raw: raw}
	_ = json.Unmarshal(raw, result)
	return result
}

// UpstreamError means the engine responded with a non-2xx status.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("analysis engine status %d: %s", e.Status, e.Detail)
}

// TransportError means the engine could not be reached or timed out.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analysis engine unreachable: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Client dispatches analysis requests. One Dispatch call makes exactly one
// outbound request; retries, if any, belong to the caller.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	endpoint, err := normalizeEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint returns the normalized analysis route URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// normalizeEndpoint appends the analysis route to the base URL unless its path
// already ends with that segment.
func normalizeEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse analysis base url failed: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("analysis base url %q must be absolute", baseURL)
	}
	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/"+routeName) {
		path += "/" + routeName
	}
	u.Path = path
	return u.String(), nil
}

// Dispatch sends one multipart request with the user's query, the serialized
// context, and the current turn's raw file uploads. No payload size cap is
// applied here; bounding uploads is the engine's concern.
func (c *Client) Dispatch(ctx context.Context, userText string, payload Context, files []FilePart) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("user_text", userText); err != nil {
		return nil, fmt.Errorf("write user_text field failed: %w", err)
	}
	ctxJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis context failed: %w", err)
	}
	if err := mw.WriteField("context", string(ctxJSON)); err != nil {
		return nil, fmt.Errorf("write context field failed: %w", err)
	}

	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, fileFieldName, f.Name))
		header.Set("Content-Type", tabularContentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("create file part failed: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write file part failed: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build analysis request failed: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Status: resp.StatusCode, Detail: extractDetail(raw)}
	}

	// The response shape is not validated; the raw body is preserved either
	// way so the turn can be replayed to the engine verbatim.
	return ResultFromRaw(raw), nil
}

// extractDetail pulls the engine's human-readable error detail when present.
func extractDetail(raw []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && strings.TrimSpace(parsed.Detail) != "" {
		return parsed.Detail
	}
	return "analysis request failed"
}
