// Package upstream is the authenticated request transport to ServiceNow
// (spec §4.1): query/create/read/update/delete/upload/download over
// /api/now/table/<table>, with a leaky-bucket rate limiter, a circuit
// breaker, and automatic credential refresh on 401.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/wisbric/snowlink/pkg/corerr"
)

// Record is one raw upstream record, kept as a gjson.Result so callers can
// navigate table-variant payloads without a struct per table (spec §9).
type Record struct {
	Raw gjson.Result
}

// SysID extracts and resolves the record's sys_id.
func (r Record) SysID() string { return ResolveReferenceField(r.Raw, "sys_id") }

// Field resolves a top-level reference/scalar field.
func (r Record) Field(name string) string { return ResolveReferenceField(r.Raw, name) }

// JSON returns the raw JSON text of the record, for persistence as raw_data.
func (r Record) JSON() string { return r.Raw.Raw }

// Client is the upstream transport. One Client is shared across the
// process; all of its methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	credential *Credential
	logger     *slog.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	maxRetries int
}

// Config configures a Client's rate limiter, circuit breaker, and retry
// policy.
type Config struct {
	BaseURL                string
	RequestsPerSecond      float64
	Burst                  int
	CircuitFailureThreshold uint32
	CircuitCooldown        time.Duration
	MaxRetries             int
	HTTPTimeout            time.Duration
}

// NewClient creates an upstream Client.
func NewClient(cfg Config, cred *Credential, logger *slog.Logger) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CircuitFailureThreshold == 0 {
		cfg.CircuitFailureThreshold = 5
	}
	if cfg.CircuitCooldown == 0 {
		cfg.CircuitCooldown = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	breakerSettings := gobreaker.Settings{
		Name:    "servicenow-upstream",
		Timeout: cfg.CircuitCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("upstream circuit breaker state change", "from", from.String(), "to", to.String())
			}
		},
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		credential: cred,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:    gobreaker.NewCircuitBreaker(breakerSettings),
		maxRetries: cfg.MaxRetries,
	}
}

// Query runs a table query with the given encoded query, limit, and offset
// (spec §4.1).
func (c *Client) Query(ctx context.Context, table string, encodedQuery string, limit, offset int) ([]Record, error) {
	path := fmt.Sprintf("/api/now/table/%s", table)
	q := map[string]string{
		"sysparm_query":         encodedQuery,
		"sysparm_limit":         strconv.Itoa(limit),
		"sysparm_offset":        strconv.Itoa(offset),
		"sysparm_display_value": "true",
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, "result")
	if !result.IsArray() {
		return nil, nil
	}

	var records []Record
	result.ForEach(func(_, v gjson.Result) bool {
		records = append(records, Record{Raw: v})
		return true
	})
	return records, nil
}

// Read fetches a single record by sys_id. A 404 maps to (Record{}, false,
// nil) per spec §7 NotFound — not an error.
func (c *Client) Read(ctx context.Context, table, sysID string) (Record, bool, error) {
	path := fmt.Sprintf("/api/now/table/%s/%s", table, sysID)
	body, err := c.doRequest(ctx, http.MethodGet, path, map[string]string{"sysparm_display_value": "true"}, nil)
	if err != nil {
		if corerr.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return Record{}, false, nil
	}
	return Record{Raw: result}, true, nil
}

// Create inserts a new record.
func (c *Client) Create(ctx context.Context, table string, fields map[string]any) (Record, error) {
	path := fmt.Sprintf("/api/now/table/%s", table)
	payload, err := json.Marshal(fields)
	if err != nil {
		return Record{}, corerr.Wrap(corerr.KindValidation, "marshaling create payload", err)
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return Record{}, err
	}
	return Record{Raw: gjson.GetBytes(body, "result")}, nil
}

// Update modifies an existing record. Callers are responsible for ensuring
// any state-transition fields have already been validated by
// pkg/ticket.ValidateTransition before calling Update.
func (c *Client) Update(ctx context.Context, table, sysID string, fields map[string]any) (Record, error) {
	path := fmt.Sprintf("/api/now/table/%s/%s", table, sysID)
	payload, err := json.Marshal(fields)
	if err != nil {
		return Record{}, corerr.Wrap(corerr.KindValidation, "marshaling update payload", err)
	}
	body, err := c.doRequest(ctx, http.MethodPut, path, nil, payload)
	if err != nil {
		return Record{}, err
	}
	return Record{Raw: gjson.GetBytes(body, "result")}, nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, table, sysID string) error {
	path := fmt.Sprintf("/api/now/table/%s/%s", table, sysID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && corerr.IsNotFound(err) {
		return nil // delete of a missing record is a no-op, not an error
	}
	return err
}

// Upload attaches a file to a record via the attachment API.
func (c *Client) Upload(ctx context.Context, table, sysID, fileName string, content []byte, contentType string) error {
	path := "/api/now/attachment/file"
	q := map[string]string{
		"table_name":   table,
		"table_sys_id": sysID,
		"file_name":    fileName,
	}
	_, err := c.doRequestRaw(ctx, http.MethodPost, path, q, content, contentType)
	return err
}

// Download retrieves attachment content by its attachment sys_id.
func (c *Client) Download(ctx context.Context, attachmentSysID string) ([]byte, error) {
	path := fmt.Sprintf("/api/now/attachment/%s/file", attachmentSysID)
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// JournalQuery fetches sys_journal_field rows for a ticket, filtered by
// element and ordered by created_at (spec §4.4, §6).
func (c *Client) JournalQuery(ctx context.Context, ticketSysID, element string, limit int) ([]Record, error) {
	q := NewQuery().
		And("element_id", OpEquals, ticketSysID).
		And("element", OpEquals, element).
		OrderBy("sys_created_on").
		Encode()
	return c.Query(ctx, "sys_journal_field", q, limit, 0)
}

// TaskSLAQuery fetches task_sla rows for a ticket — ServiceNow's join table
// between a task and the contractual SLA definitions it's tracked against
// (spec §4.4 full-sync step a).
func (c *Client) TaskSLAQuery(ctx context.Context, ticketSysID string, limit int) ([]Record, error) {
	q := NewQuery().
		And("task", OpEquals, ticketSysID).
		Encode()
	return c.Query(ctx, "task_sla", q, limit, 0)
}

// doRequest performs an HTTP round trip through the rate limiter, circuit
// breaker, and retry/backoff/credential-refresh policy of spec §4.1 and §7,
// returning the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string, body []byte) ([]byte, error) {
	return c.doRequestRaw(ctx, method, path, query, body, "application/json")
}

// doRequestRaw performs the retry loop. body is buffered bytes, not a
// stream: a request may be sent more than once (401 refresh, 5xx retry), and
// an io.Reader consumed on attempt one would send an empty body on attempt
// two, so each attempt gets its own fresh reader over the same bytes.
func (c *Client) doRequestRaw(ctx context.Context, method, path string, query map[string]string, body []byte, contentType string) ([]byte, error) {
	attempted401Refresh := false

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, corerr.Wrap(corerr.KindTransientUpstream, "rate limiter wait", err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return c.roundTrip(ctx, method, path, query, reader, contentType)
		})

		if err == nil {
			return result.([]byte), nil
		}

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, corerr.Wrap(corerr.KindTransientUpstream, "circuit breaker open", err)
		}

		if upErr, ok := err.(*upstreamStatusError); ok {
			switch {
			case upErr.status == http.StatusNotFound:
				return nil, corerr.Wrap(corerr.KindNotFound, "record not found", err)
			case upErr.status == http.StatusUnauthorized && !attempted401Refresh:
				attempted401Refresh = true
				if c.credential != nil {
					if refreshErr := c.credential.Refresh(ctx); refreshErr == nil {
						continue // retry immediately with the refreshed credential
					}
				}
				return nil, corerr.Wrap(corerr.KindAuthExpired, "credential refresh failed", err)
			case upErr.status == http.StatusUnauthorized:
				return nil, corerr.Wrap(corerr.KindAuthExpired, "still unauthorized after credential refresh", err)
			case upErr.status == http.StatusTooManyRequests:
				if c.logger != nil {
					c.logger.Warn("upstream rate limited", "retry_after_seconds", upErr.retryAfterSeconds)
				}
				if attempt < c.maxRetries {
					select {
					case <-time.After(time.Duration(upErr.retryAfterSeconds) * time.Second):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					continue
				}
				return nil, corerr.RateLimited("servicenow", upErr.retryAfterSeconds)
			case upErr.status >= 500:
				if attempt < c.maxRetries {
					backoffFor(attempt)
					continue
				}
				return nil, corerr.Wrap(corerr.KindTransientUpstream, "upstream server error", err)
			}
			return nil, corerr.Wrap(corerr.KindTransientUpstream, "unexpected upstream status", err)
		}

		// Network-level error: retry with backoff, then surface.
		if attempt < c.maxRetries {
			backoffFor(attempt)
			continue
		}
		return nil, corerr.Wrap(corerr.KindTransientUpstream, "upstream request failed", err)
	}

	return nil, corerr.New(corerr.KindTransientUpstream, "exhausted retries")
}

func backoffFor(attempt int) {
	time.Sleep(time.Duration(1<<attempt) * 100 * time.Millisecond)
}

type upstreamStatusError struct {
	status            int
	retryAfterSeconds int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// roundTrip performs one HTTP request/response cycle with no retry logic of
// its own — retries are orchestrated by doRequestRaw.
func (c *Client) roundTrip(ctx context.Context, method, path string, query map[string]string, body io.Reader, contentType string) ([]byte, error) {
	url := c.baseURL + path
	if len(query) > 0 {
		url += "?" + encodeQueryParams(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.credential != nil {
		c.credential.Apply(req.Header.Set)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		retryAfter := 1
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
				retryAfter = secs
			}
		}
		return nil, &upstreamStatusError{status: resp.StatusCode, retryAfterSeconds: retryAfter}
	}

	return respBody, nil
}

func encodeQueryParams(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}
