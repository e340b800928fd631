package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"quaver/internal/services"
)

// ErrDaemonUnavailable reports that no daemon answered on the configured
// bind address.
var ErrDaemonUnavailable = errors.New("quaver daemon unavailable")

// APIError carries a non-2xx daemon response. Unwrap maps the taxonomy
// kind back onto the service sentinels, so errors.Is works across the
// HTTP boundary.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.Status)
}

func (e *APIError) Unwrap() error {
	return services.ErrorKind(e.Kind).Sentinel()
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the given bind address. The token is sent
// as a bearer credential when non-empty.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is empty")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No client timeout; result downloads can be large and every
		// call site passes a context.
		http: &http.Client{},
	}, nil
}

// SubmitJob enqueues a new conversion job and returns its initial snapshot.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (JobView, error) {
	var job JobView
	err := c.call(ctx, http.MethodPost, "/api/v1/jobs", nil, req, &job)
	return job, err
}

// Jobs lists jobs, optionally filtered to the given statuses.
func (c *Client) Jobs(ctx context.Context, statuses ...string) ([]JobView, error) {
	values := url.Values{}
	for _, status := range statuses {
		if status = strings.TrimSpace(status); status != "" {
			values.Add("status", status)
		}
	}
	var resp JobListResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/jobs", values, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job fetches one job by id.
func (c *Client) Job(ctx context.Context, id string) (JobView, error) {
	var job JobView
	err := c.call(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, nil, &job)
	return job, err
}

// Cancel requests cooperative cancellation and returns the updated snapshot.
func (c *Client) Cancel(ctx context.Context, id string) (JobView, error) {
	var job JobView
	err := c.call(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil, &job)
	return job, err
}

// Retry requeues a failed job from its first unfinished stage.
func (c *Client) Retry(ctx context.Context, id string) (JobView, error) {
	var job JobView
	err := c.call(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/retry", nil, nil, &job)
	return job, err
}

// Delete removes a terminal job and its artifacts.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/jobs/"+id, nil, nil, nil)
}

// ResultDownload describes a streamed final artifact.
type ResultDownload struct {
	Filename    string
	ContentType string
	Bytes       int64
}

// DownloadResult streams a completed job's final artifact into dst. The
// returned filename comes from the daemon's Content-Disposition header and
// must be treated as untrusted input.
func (c *Client) DownloadResult(ctx context.Context, id string, dst io.Writer) (ResultDownload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/result", nil, nil)
	if err != nil {
		return ResultDownload{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ResultDownload{}, unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ResultDownload{}, decodeAPIError(resp)
	}

	download := ResultDownload{
		Filename:    dispositionFilename(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
	}
	download.Bytes, err = io.Copy(dst, resp.Body)
	if err != nil {
		return download, fmt.Errorf("download result: %w", err)
	}
	return download, nil
}

// Health fetches the daemon health report. Degraded daemons answer 503
// with a full report, so that status decodes instead of erroring.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil)
	if err != nil {
		return HealthResponse{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthResponse{}, unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return HealthResponse{}, decodeAPIError(resp)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return HealthResponse{}, fmt.Errorf("decode health response: %w", err)
	}
	return health, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return unreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
	}
	return apiErr
}

// unreachable folds connection-level failures into ErrDaemonUnavailable so
// callers can distinguish "daemon down" from API errors.
func unreachable(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return err
}

// IsDaemonUnavailable reports whether err means no daemon is listening.
func IsDaemonUnavailable(err error) bool {
	return errors.Is(err, ErrDaemonUnavailable)
}

func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil || params["filename"] == "" {
		return ""
	}
	// Strip any path component a hostile daemon might attach.
	return filepath.Base(params["filename"])
}
