package clients

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

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/internal/domain"
)

const (
	DefaultBaseURL = "http://localhost:4566"
	DefaultStage   = "dev"

	defaultTimeout = 10 * time.Second
)

var (
	// ErrNetwork wraps failures that happened before any response was received.
	ErrNetwork = errors.New("gateway unreachable")
	// ErrMalformedResponse is returned when a 2xx body does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

var gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "fxdesk_gateway_request_duration_seconds",
	Help:    "Latency of requests to the remote gateway",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "resource", "status"})

// UpstreamError is a non-2xx response of the remote gateway.
type UpstreamError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API %d %s: %s", e.Status, e.StatusText, e.Body)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.Status == http.StatusNotFound
}

// IsRetryable reports whether a request that failed with err may succeed later.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status == http.StatusNotFound ||
			upstream.Status == http.StatusTooManyRequests ||
			upstream.Status >= http.StatusInternalServerError
	}
	return false
}

// RootURL builds the gateway invoke root for base, gateway id and stage.
func RootURL(base, gatewayID, stage string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	if stage == "" {
		stage = DefaultStage
	}
	return fmt.Sprintf("%s/restapis/%s/%s/_user_request_", strings.TrimRight(base, "/"), gatewayID, stage)
}

// GatewayClient talks to the remote exchange backend through its API gateway.
// It performs exactly one HTTP request per call and never retries.
type GatewayClient struct {
	root       string
	httpClient *http.Client
	logger     *zap.Logger
}

// GatewayOption configures a GatewayClient.
type GatewayOption func(*GatewayClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *GatewayClient) {
		g.httpClient = c
	}
}

// WithTimeout sets the per-request timeout. A client passed with
// WithHTTPClient is copied, never modified.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *GatewayClient) {
		c := *g.httpClient
		c.Timeout = d
		g.httpClient = &c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *GatewayClient) {
		g.logger = l
	}
}

// NewGatewayClient creates a client for the gateway at baseURL.
// An empty gatewayID is allowed; it only produces a warning.
func NewGatewayClient(baseURL, gatewayID, stage string, opts ...GatewayOption) *GatewayClient {
	g := &GatewayClient{
		root:       RootURL(baseURL, gatewayID, stage),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if gatewayID == "" {
		g.logger.Warn("API_GATEWAY_ID is not set, gateway requests will likely fail", zap.String("root", g.root))
	}

	return g
}

// Root returns the gateway invoke root.
func (g *GatewayClient) Root() string {
	return g.root
}

// Request performs a single call against the gateway and returns the raw success body.
func (g *GatewayClient) Request(ctx context.Context, method, path string, body []byte, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.root+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway request")
	}

	req.Header.Set("Content-Type", "application/json")
	for k, values := range header {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		gatewayLatency.WithLabelValues(method, resourceOf(path), "error").Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(ErrNetwork, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	gatewayLatency.WithLabelValues(method, resourceOf(path), strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrNetwork, "failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Body:       string(data),
		}
	}

	return data, nil
}

// RequestJSON performs Request and decodes the success body into out.
func (g *GatewayClient) RequestJSON(ctx context.Context, method, path string, body []byte, header http.Header, out any) error {
	data, err := g.Request(ctx, method, path, body, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "%s %s: %v", method, path, err)
	}
	return nil
}

// Balances returns the raw body of GET /balances.
func (g *GatewayClient) Balances(ctx context.Context, userID string) (json.RawMessage, error) {
	return g.raw(ctx, http.MethodGet, "/balances?user_id="+url.QueryEscape(userID), nil)
}

// CreateJob forwards body to POST /jobs and returns the raw response.
func (g *GatewayClient) CreateJob(ctx context.Context, body []byte) (json.RawMessage, error) {
	return g.raw(ctx, http.MethodPost, "/jobs", body)
}

// Jobs returns the raw body of GET /jobs.
func (g *GatewayClient) Jobs(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	return g.raw(ctx, http.MethodGet, jobsPath(userID, limit), nil)
}

// Job returns the raw body of GET /jobs/{id}.
func (g *GatewayClient) Job(ctx context.Context, jobID, userID string) (json.RawMessage, error) {
	return g.raw(ctx, http.MethodGet, jobPath(jobID, userID), nil)
}

// FetchAccounts loads the account set of userID.
func (g *GatewayClient) FetchAccounts(ctx context.Context, userID string) (domain.AccountsResponse, error) {
	data, err := g.Request(ctx, http.MethodGet, "/balances?user_id="+url.QueryEscape(userID), nil, nil)
	if err != nil {
		return domain.AccountsResponse{}, err
	}

	if !gjson.GetBytes(data, "accounts").IsArray() {
		return domain.AccountsResponse{}, errors.Wrap(ErrMalformedResponse, "balances: accounts is not an array")
	}

	var resp domain.AccountsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.AccountsResponse{}, errors.Wrapf(ErrMalformedResponse, "balances: %v", err)
	}
	for i := range resp.Accounts {
		resp.Accounts[i].Currency = domain.NormalizeCode(resp.Accounts[i].Currency)
	}

	return resp, nil
}

// CreateConversionJob submits req and returns the created job.
func (g *GatewayClient) CreateConversionJob(ctx context.Context, req domain.ConversionJobRequest) (domain.ConversionJob, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ConversionJob{}, errors.Wrap(err, "failed to marshal conversion job")
	}

	data, err := g.Request(ctx, http.MethodPost, "/jobs", body, nil)
	if err != nil {
		return domain.ConversionJob{}, err
	}

	if gjson.GetBytes(data, "job_id").String() == "" {
		return domain.ConversionJob{}, errors.Wrap(ErrMalformedResponse, "jobs: response has no job_id")
	}

	var job domain.ConversionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.ConversionJob{}, errors.Wrapf(ErrMalformedResponse, "jobs: %v", err)
	}

	return job, nil
}

// FetchTransactions lists the most recent jobs of userID in remote order.
func (g *GatewayClient) FetchTransactions(ctx context.Context, userID string, limit int) (domain.TransactionsResponse, error) {
	data, err := g.Request(ctx, http.MethodGet, jobsPath(userID, limit), nil, nil)
	if err != nil {
		return domain.TransactionsResponse{}, err
	}

	jobs := gjson.GetBytes(data, "jobs")
	if jobs.Exists() && jobs.Type != gjson.Null && !jobs.IsArray() {
		return domain.TransactionsResponse{}, errors.Wrap(ErrMalformedResponse, "jobs: jobs is not an array")
	}

	var resp domain.TransactionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.TransactionsResponse{}, errors.Wrapf(ErrMalformedResponse, "jobs: %v", err)
	}
	if resp.Jobs == nil {
		resp.Jobs = []domain.Transaction{}
	}

	return resp, nil
}

// FetchJob loads one job. The gateway answers 404 until the job is completed.
func (g *GatewayClient) FetchJob(ctx context.Context, jobID, userID string) (domain.ConversionJob, error) {
	var job domain.ConversionJob
	if err := g.RequestJSON(ctx, http.MethodGet, jobPath(jobID, userID), nil, nil, &job); err != nil {
		return domain.ConversionJob{}, err
	}
	if job.JobID == "" {
		job.JobID = jobID
	}
	return job, nil
}

type rateResponse struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Rate      decimal.Decimal `json:"rate"`
	FeeBps    int             `json:"fee_bps"`
	Provider  string          `json:"provider"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// FetchRate asks the remote rate service for a quote.
func (g *GatewayClient) FetchRate(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	path := fmt.Sprintf("/rate?source=%s&target=%s", url.QueryEscape(pair.From), url.QueryEscape(pair.To))

	var resp rateResponse
	if err := g.RequestJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return domain.Quote{}, err
	}
	if !resp.Rate.IsPositive() {
		return domain.Quote{}, errors.Wrapf(ErrMalformedResponse, "rate: non-positive rate %s for %s", resp.Rate, pair)
	}

	q := domain.Quote{
		Pair:       pair,
		Rate:       resp.Rate,
		FeeBps:     resp.FeeBps,
		Provider:   resp.Provider,
		ObtainedAt: time.Now(),
	}
	if resp.ExpiresAt != nil {
		q.ExpiresAt = *resp.ExpiresAt
	}

	return q, nil
}

func (g *GatewayClient) raw(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	data, err := g.Request(ctx, method, path, body, nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrapf(ErrMalformedResponse, "%s %s: body is not JSON", method, path)
	}
	return json.RawMessage(data), nil
}

func jobsPath(userID string, limit int) string {
	return fmt.Sprintf("/jobs?user_id=%s&limit=%d", url.QueryEscape(userID), limit)
}

func jobPath(jobID, userID string) string {
	return fmt.Sprintf("/jobs/%s?user_id=%s", url.PathEscape(jobID), url.QueryEscape(userID))
}

// resourceOf keeps metric cardinality bounded: /jobs/abc?x=1 -> jobs.
func resourceOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(p, "/?"); i >= 0 {
		p = p[:i]
	}
	return p
}

func statusText(resp *http.Response) string {
	// resp.Status is "404 Not Found"
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
