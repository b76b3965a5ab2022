// Package store implements a thin HTTP client over the hosted message
// table's REST interface (PostgREST-style filters, Supabase auth headers).
// No business logic lives here.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
	"github.com/nextlevelbuilder/pollclaw/internal/config"
)

// Client talks to one table of the hosted message store.
type Client struct {
	baseURL  string
	key      string
	table    string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
}

// New creates a store client from config. The two auth headers (apikey and
// bearer) both carry cfg.Key, matching the store's REST contract.
func New(cfg config.StoreConfig, timeout time.Duration) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		key:      cfg.Key,
		table:    cfg.Table,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// row is the wire shape of one table record. Body is nullable in the store
// schema and must decode to the empty string, never an error.
type row struct {
	ID        int64   `json:"id"`
	Sender    string  `json:"sender"`
	Body      *string `json:"body"`
	CreatedAt string  `json:"created_at"`
	Target    string  `json:"target"`
}

func (r row) message() bus.Message {
	body := ""
	if r.Body != nil {
		body = *r.Body
	}
	return bus.Message{
		ID:        r.ID,
		Sender:    r.Sender,
		Body:      body,
		CreatedAt: parseStoreTime(r.CreatedAt),
		Target:    r.Target,
	}
}

// parseStoreTime handles the store's timestamp variants: full RFC3339 with
// fractional seconds, and timezone-naive timestamps from older writers.
func parseStoreTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FetchSince returns rows with id >= watermark in ascending creation order,
// bounded to one page. The filter is deliberately inclusive (gte): the store's
// boundary semantics are not trusted, so the engine over-fetches and lets the
// deduplicator drop the boundary row. Empty result is (nil, nil).
func (c *Client) FetchSince(ctx context.Context, watermark int64) ([]bus.Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", fmt.Sprintf("gte.%d", watermark))
	q.Set("order", "id.asc")
	q.Set("limit", fmt.Sprintf("%d", c.pageSize))

	var rows []row
	if err := c.get(ctx, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	msgs := make([]bus.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.message())
	}
	// The store orders by id, but concurrent writers under clock skew have
	// produced out-of-order pages in practice. Re-sort locally.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// LatestID returns the highest id currently in the table, or 0 when the
// table is empty. Used to seed the watermark so backlog is not replayed.
func (c *Client) LatestID(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("order", "id.desc")
	q.Set("limit", "1")

	var rows []row
	if err := c.get(ctx, q, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].ID, nil
}

// PostReply inserts one reply row. Each successful call creates exactly one
// row; callers retrying on transport errors must reuse the same Reply so the
// dedup_key stays stable.
func (c *Client) PostReply(ctx context.Context, reply bus.Reply) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("%w: encode reply: %v", ErrDecode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tableURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return statusError(resp.StatusCode)
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Debug("store payload decode failed", "table", c.table, "error", err)
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (c *Client) tableURL() string {
	return c.baseURL + "/rest/v1/" + c.table
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
}

// statusError maps an HTTP status to the store error taxonomy.
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", ErrTransport, code)
	default:
		// Remaining 4xx mean the request shape is wrong; retrying cannot help.
		return fmt.Errorf("%w: status %d", ErrDecode, code)
	}
}
