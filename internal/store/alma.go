package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
)

// Alma API regions and their hosts.
//
//nolint:gochecknoglobals // Intentional: static lookup table.
var regionHosts = map[string]string{
	"na": "https://api-na.hosted.exlibrisgroup.com",
	"eu": "https://api-eu.hosted.exlibrisgroup.com",
	"ap": "https://api-ap.hosted.exlibrisgroup.com",
	"ca": "https://api-ca.hosted.exlibrisgroup.com",
	"cn": "https://api-cn.hosted.exlibrisgroup.com.cn",
}

// regionAliases maps the long region names used in saved settings.
//
//nolint:gochecknoglobals // Intentional: static lookup table.
var regionAliases = map[string]string{
	"north america": "na",
	"europe":        "eu",
	"asia pacific":  "ap",
	"canada":        "ca",
	"china":         "cn",
}

// DefaultTimeout bounds every Alma request.
const DefaultTimeout = 30 * time.Second

// ErrUnknownRegion is returned by RegionURL for an unrecognized region.
var ErrUnknownRegion = errors.New("unknown Alma region")

// RegionURL returns the API host for a region code ("na") or name
// ("North America").
func RegionURL(region string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(region))
	if alias, ok := regionAliases[key]; ok {
		key = alias
	}
	if host, ok := regionHosts[key]; ok {
		return host, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, region)
}

// AlmaConfig configures an Alma client.
//
// Zero values get defaults: BaseURL from Region (default "na"), Timeout 30s.
type AlmaConfig struct {
	BaseURL string
	Region  string
	APIKey  string
	Timeout time.Duration

	// Transport is an optional RoundTripper, mainly for tests.
	Transport http.RoundTripper
}

// Alma is a RecordStore backed by the Alma REST API. It does not retry;
// retry policy belongs to the batch fetcher.
type Alma struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlma builds a client from cfg.
func NewAlma(cfg AlmaConfig) (*Alma, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("alma: api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		region := cfg.Region
		if region == "" {
			region = "na"
		}
		host, err := RegionURL(region)
		if err != nil {
			return nil, err
		}
		base = host
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Alma{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}, nil
}

// BaseURL returns the API host the client talks to.
func (a *Alma) BaseURL() string { return a.baseURL }

// ListMembers implements RecordStore.
func (a *Alma) ListMembers(ctx context.Context, setID string, offset, limit int) (MemberPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	body, err := a.do(ctx, "list members", http.MethodGet, "/almaws/v1/conf/sets/"+url.PathEscape(setID)+"/members", q, nil)
	if err != nil {
		return MemberPage{}, err
	}

	doc, err := record.ParseDocument(body)
	if err != nil {
		return MemberPage{}, fmt.Errorf("list members: decoding response: %w", err)
	}
	root := doc.Root()
	page := MemberPage{}
	if total, ok := attr(root, "total_record_count"); ok {
		page.Total, _ = strconv.Atoi(total)
	}
	for _, m := range root.Elements() {
		if !m.Is("", "member") {
			continue
		}
		if id := m.Child("", "id"); id != nil {
			if v := strings.TrimSpace(id.Text()); v != "" {
				page.Members = append(page.Members, v)
			}
		}
	}
	return page, nil
}

// FetchBatch implements RecordStore.
func (a *Alma) FetchBatch(ctx context.Context, ids []string) ([]*record.Record, error) {
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("fetch batch: %w: got %d", ErrBatchTooLarge, len(ids))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("mms_id", strings.Join(ids, ","))
	q.Set("view", "full")
	q.Set("expand", "None")

	body, err := a.do(ctx, "fetch batch", http.MethodGet, "/almaws/v1/bibs", q, nil)
	if err != nil {
		return nil, err
	}

	doc, err := record.ParseDocument(body)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: decoding response: %w", err)
	}

	root := doc.Root()
	var bibs []*record.Node
	if root.Is("", "bib") {
		bibs = []*record.Node{root}
	} else {
		for _, el := range root.Elements() {
			if el.Is("", "bib") {
				bibs = append(bibs, el)
			}
		}
	}

	out := make([]*record.Record, 0, len(bibs))
	for _, el := range bibs {
		rec, recErr := record.FromElement(el)
		if recErr != nil {
			logging.FromContext(ctx).Warn().Err(recErr).Msg("skipping unreadable bib in batch response")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// FetchOne implements RecordStore.
func (a *Alma) FetchOne(ctx context.Context, id string) (*record.Record, error) {
	q := url.Values{}
	q.Set("view", "full")
	q.Set("expand", "None")

	body, err := a.do(ctx, "fetch "+id, http.MethodGet, "/almaws/v1/bibs/"+url.PathEscape(id), q, nil)
	if err != nil {
		return nil, err
	}
	rec, err := record.Parse(id, body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: decoding response: %w", id, err)
	}
	return rec, nil
}

// WriteOne implements RecordStore with a full-document PUT.
func (a *Alma) WriteOne(ctx context.Context, id string, rec *record.Record) error {
	payload, err := rec.Marshal()
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("validate", "false")
	q.Set("override_warning", "true")
	q.Set("override_lock", "true")
	q.Set("stale_version_check", "false")

	_, err = a.do(ctx, "write "+id, http.MethodPut, "/almaws/v1/bibs/"+url.PathEscape(id), q, payload)
	return err
}

func (a *Alma) do(ctx context.Context, op, method, path string, q url.Values, payload []byte) ([]byte, error) {
	q.Set("apikey", a.apiKey)
	target := a.baseURL + path + "?" + q.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/xml")
	if payload != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}

	logging.FromContext(ctx).Debug().
		Str("op", op).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("alma request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(op, resp.StatusCode, data)
	}
	return data, nil
}

// newStatusError keeps Alma's errorMessage when the body is a
// web_service_result.
func newStatusError(op string, status int, body []byte) *StatusError {
	se := &StatusError{Op: op, Status: status}
	if len(body) > maxErrorBody {
		se.Body = string(body[:maxErrorBody])
	} else {
		se.Body = string(body)
	}
	if doc, err := record.ParseDocument(body); err == nil {
		if msgs := doc.Root().Find("", "errorMessage"); len(msgs) > 0 {
			se.Message = strings.TrimSpace(msgs[0].Text())
		}
	}
	return se
}

func attr(n *record.Node, local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}
