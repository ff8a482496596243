package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehr/caregap/internal/platform/metrics"
)

const (
	MIMEApplicationFHIRJSON = "application/fhir+json"

	defaultMaxPages = 20
	maxErrorBody    = 1 << 20
)

// Exchange is the record-exchange contract consumed by the workflow layer.
type Exchange interface {
	FetchRecords(ctx context.Context, resourceType string, query url.Values) ([]json.RawMessage, error)
	EvaluateMeasure(ctx context.Context, measureID, subjectID, periodStart, periodEnd string) (*MeasureReport, error)
	ApplyPlan(ctx context.Context, planID, subjectID string) (*CarePlan, error)
	SubmitRecord(ctx context.Context, resource Submittable) (*SubmitAck, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	RPS      float64
	Burst    int
	MaxPages int
	// HTTPClient overrides the default transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to a FHIR R4 server over its REST API. Outbound requests are
// throttled by a shared token bucket.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	maxPages int
}

// NewClient creates a Client. A non-positive RPS disables throttling.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse fhir base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("fhir base url %q must be absolute", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RPS)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	return &Client{baseURL: base, http: hc, limiter: limiter, maxPages: maxPages}, nil
}

// FetchRecords runs a search and returns the raw matching resources,
// following "next" links up to the configured page limit. An empty bundle
// yields an empty slice.
func (c *Client) FetchRecords(ctx context.Context, resourceType string, query url.Values) ([]json.RawMessage, error) {
	target := c.resolve(resourceType, query)
	out := make([]json.RawMessage, 0)

	for page := 0; target != "" && page < c.maxPages; page++ {
		var bundle Bundle
		if _, err := c.do(ctx, "search", resourceType, http.MethodGet, target, nil, &bundle); err != nil {
			return nil, err
		}
		out = append(out, bundle.Resources()...)
		target = c.followLink(bundle.NextURL())
	}
	return out, nil
}

// FetchAs fetches records and decodes each into T. A resource that fails to
// decode aborts the whole fetch.
func FetchAs[T any](ctx context.Context, ex Exchange, resourceType string, query url.Values) ([]T, error) {
	raws, err := ex.FetchRecords(ctx, resourceType, query)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s entry %d: %w", resourceType, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// EvaluateMeasure runs Measure/{id}/$evaluate-measure for one subject.
func (c *Client) EvaluateMeasure(ctx context.Context, measureID, subjectID, periodStart, periodEnd string) (*MeasureReport, error) {
	q := url.Values{}
	q.Set("subject", subjectRef(subjectID))
	if periodStart != "" {
		q.Set("periodStart", periodStart)
	}
	if periodEnd != "" {
		q.Set("periodEnd", periodEnd)
	}
	target := c.resolve(path.Join("Measure", measureID, "$evaluate-measure"), q)

	var report MeasureReport
	if _, err := c.do(ctx, "evaluate-measure", ResourceMeasureReport, http.MethodGet, target, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ApplyPlan runs PlanDefinition/{id}/$apply for one subject.
func (c *Client) ApplyPlan(ctx context.Context, planID, subjectID string) (*CarePlan, error) {
	q := url.Values{}
	q.Set("subject", subjectRef(subjectID))
	target := c.resolve(path.Join("PlanDefinition", planID, "$apply"), q)

	var plan CarePlan
	if _, err := c.do(ctx, "apply", ResourceCarePlan, http.MethodGet, target, nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SubmitRecord creates the resource with a POST to its type endpoint.
func (c *Client) SubmitRecord(ctx context.Context, resource Submittable) (*SubmitAck, error) {
	if resource == nil {
		return nil, errors.New("fhir submit: nil resource")
	}
	resourceType := resource.FHIRResourceType()
	body, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", resourceType, err)
	}

	var created Resource
	resp, err := c.do(ctx, "create", resourceType, http.MethodPost, c.resolve(resourceType, nil), body, &created)
	if err != nil {
		return nil, err
	}

	ack := &SubmitAck{
		ResourceType: resourceType,
		ID:           created.ID,
		Location:     resp.location,
		StatusCode:   resp.status,
	}
	if created.Meta != nil {
		ack.VersionID = created.Meta.VersionID
	}
	if ack.ID == "" {
		ack.ID = idFromLocation(resp.location, resourceType)
	}
	return ack, nil
}

type response struct {
	status   int
	location string
}

func (c *Client) do(ctx context.Context, op, resourceType, method, target string, body []byte, out any) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, fmt.Errorf("fhir %s %s: %w", op, resourceType, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return response{}, fmt.Errorf("create fhir request: %w", err)
	}
	req.Header.Set("Accept", MIMEApplicationFHIRJSON)
	if body != nil {
		req.Header.Set("Content-Type", MIMEApplicationFHIRJSON)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordFHIRRequest(op, resourceType, 0, time.Since(start))
		return response{}, fmt.Errorf("fhir %s %s: %w", op, resourceType, err)
	}
	defer resp.Body.Close()
	metrics.RecordFHIRRequest(op, resourceType, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return response{}, decodeOutcome(op, resp)
	}

	r := response{status: resp.StatusCode, location: resp.Header.Get("Location")}
	if out == nil {
		return r, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A create may legitimately answer with an empty body.
		if errors.Is(err, io.EOF) && method == http.MethodPost {
			return r, nil
		}
		return response{}, fmt.Errorf("decode fhir %s %s response: %w", op, resourceType, err)
	}
	return r, nil
}

func decodeOutcome(op string, resp *http.Response) error {
	outErr := &OutcomeError{StatusCode: resp.StatusCode, Operation: op}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return outErr
	}
	var outcome OperationOutcome
	if err := json.Unmarshal(data, &outcome); err == nil && outcome.ResourceType == "OperationOutcome" {
		outErr.Outcome = &outcome
	}
	return outErr
}

func (c *Client) resolve(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(p, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// followLink resolves a paging link. Servers commonly return absolute
// links; relative ones are resolved against the base URL.
func (c *Client) followLink(link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + "/"
	return base.ResolveReference(ref).String()
}

func subjectRef(id string) string {
	if strings.HasPrefix(id, "Patient/") {
		return id
	}
	return "Patient/" + id
}

// idFromLocation extracts the logical id from a Location header such as
// "http://host/fhir/Observation/123/_history/1".
func idFromLocation(location, resourceType string) string {
	parts := strings.Split(strings.Trim(location, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == resourceType {
			return parts[i+1]
		}
	}
	return ""
}
