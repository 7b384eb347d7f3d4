// Package linkcheck verifies that external links, such as Handle System
// URLs, resolve.
package linkcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/logging"
)

// DefaultTimeout bounds each HEAD or GET attempt.
const DefaultTimeout = 10 * time.Second

// Verdicts written to the report.
const (
	VerdictOK       = "OK"
	VerdictBroken   = "Broken"
	VerdictError    = "Error"
	VerdictNoHandle = "No Handle"
)

// Config controls a Checker.
type Config struct {
	Timeout   time.Duration
	UserAgent string

	// Transport replaces http.DefaultTransport, mainly in tests.
	Transport http.RoundTripper
}

// Checker resolves links with HEAD, falling back to GET for servers that
// refuse or mishandle HEAD.
type Checker struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// New returns a Checker.
func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "almabatch-linkcheck"
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Checker{
		client:    &http.Client{Transport: transport},
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
	}
}

// Result is the outcome of checking one link.
type Result struct {
	URL string

	// Status is the final HTTP status, 0 when no response arrived.
	Status int

	// Method is the request method that produced Status.
	Method string

	Err error
}

// Verdict summarizes the result for the report.
func (r Result) Verdict() string {
	switch {
	case r.Err != nil || r.Status == 0:
		return VerdictError
	case r.Status < http.StatusBadRequest:
		return VerdictOK
	default:
		return VerdictBroken
	}
}

// StatusText returns the status as report text, empty without a response.
func (r Result) StatusText() string {
	if r.Status == 0 {
		return ""
	}
	return strconv.Itoa(r.Status)
}

// Check resolves url. Redirects are followed.
func (c *Checker) Check(ctx context.Context, url string) Result {
	status, err := c.do(ctx, http.MethodHead, url)
	if err == nil && !needsGet(status) {
		return Result{URL: url, Status: status, Method: http.MethodHead}
	}

	logging.FromContext(ctx).Debug().
		Err(err).
		Str("url", url).
		Int("head_status", status).
		Msg("HEAD inconclusive, retrying with GET")

	status, err = c.do(ctx, http.MethodGet, url)
	return Result{URL: url, Status: status, Method: http.MethodGet, Err: err}
}

func needsGet(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	default:
		return false
	}
}

func (c *Checker) do(ctx context.Context, method, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4096) //nolint:mnd // small drain
	return resp.StatusCode, nil
}

// Enricher fills the status and verdict columns of a row from the link in
// its URL column.
type Enricher struct {
	Checker      *Checker
	URLColumn    string
	StatusColumn string
	ResultColumn string
}

// NewHandleEnricher checks the Handle column of the handle-validation report.
func NewHandleEnricher(c *Checker) *Enricher {
	return &Enricher{
		Checker:      c,
		URLColumn:    extract.ColumnHandle,
		StatusColumn: extract.ColumnStatusCode,
		ResultColumn: extract.ColumnResult,
	}
}

// Enrich sets the status and verdict columns. A row without a link gets
// VerdictNoHandle. It never fails: an unreachable link is a verdict.
func (e *Enricher) Enrich(ctx context.Context, row *extract.Row) error {
	url := row.Get(e.URLColumn)
	if url == "" {
		row.Set(e.ResultColumn, VerdictNoHandle)
		return nil
	}

	res := e.Checker.Check(ctx, url)
	row.Set(e.StatusColumn, res.StatusText())
	row.Set(e.ResultColumn, res.Verdict())
	if res.Verdict() != VerdictOK {
		logging.FromContext(ctx).Warn().
			Err(res.Err).
			Str("url", url).
			Int("status", res.Status).
			Msg("link did not resolve")
	}
	return nil
}
