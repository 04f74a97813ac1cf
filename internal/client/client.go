// Package client talks to a scorecard API server over HTTP. It satisfies
// the same backend interfaces as the local store, so the CLI can work
// against either.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/store"
)

// DefaultTimeout applies when New is given a zero timeout.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response. Its body is kept so the error reporter
// can extract the server's message.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	body       []byte
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(string(e.body))
	if msg == "" {
		msg = e.Status
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Body returns the raw response body.
func (e *APIError) Body() []byte { return e.body }

// Unwrap maps well-known statuses onto the store sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		return store.ErrConflict
	default:
		return nil
	}
}

// Client is an HTTP client for the scorecard API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client rooted at baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			body:       respBody,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

// --- Scorecards ---

func (c *Client) CreateScorecard(ctx context.Context, sc *models.Scorecard) error {
	return c.do(ctx, http.MethodPost, "/scorecard", sc, sc)
}

func (c *Client) GetScorecard(ctx context.Context, id string) (*models.Scorecard, error) {
	var sc models.Scorecard
	if err := c.do(ctx, http.MethodGet, "/scorecard/"+url.PathEscape(id), nil, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (c *Client) ListScorecards(ctx context.Context) ([]*models.Scorecard, error) {
	var list []*models.Scorecard
	if err := c.do(ctx, http.MethodGet, "/scorecards", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- Reviews ---

func (c *Client) CreateReview(ctx context.Context, req *models.NewReviewRequest) (*models.Review, error) {
	var r models.Review
	if err := c.do(ctx, http.MethodPost, "/review", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetReview(ctx context.Context, id string) (*models.Review, error) {
	var r models.Review
	if err := c.do(ctx, http.MethodGet, "/review/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListReviews(ctx context.Context, filter store.ReviewListFilter) ([]*models.Review, error) {
	q := url.Values{}
	if filter.ScorecardID != "" {
		q.Set("scorecardId", filter.ScorecardID)
	}
	if filter.SubmissionID != "" {
		q.Set("submissionId", filter.SubmissionID)
	}
	if filter.ResourceID != "" {
		q.Set("resourceId", filter.ResourceID)
	}
	if filter.Committed != nil {
		q.Set("committed", strconv.FormatBool(*filter.Committed))
	}
	path := "/reviews"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list []*models.Review
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) PatchReview(ctx context.Context, id string, patch *models.ReviewPatch) (*models.Review, error) {
	var r models.Review
	if err := c.do(ctx, http.MethodPatch, "/review/"+url.PathEscape(id), patch, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Appeals ---

func (c *Client) CreateAppeal(ctx context.Context, req *models.AppealRequest) (*models.AppealInfo, error) {
	var a models.AppealInfo
	if err := c.do(ctx, http.MethodPost, "/appeal", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteAppeal(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/appeal/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateAppealResponse(ctx context.Context, req *models.AppealResponseRequest) (*models.AppealResponse, error) {
	var resp models.AppealResponse
	if err := c.do(ctx, http.MethodPost, "/appealResponse", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
