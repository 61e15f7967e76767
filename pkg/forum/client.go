package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultIdentity is the acting identity used when none is configured.
const DefaultIdentity = "system"

// Operation is the kind of remote call being made.
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

func (o Operation) method() string {
	switch o {
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPut
	default:
		return http.MethodGet
	}
}

// IsMutation reports whether the operation changes remote state.
func (o Operation) IsMutation() bool {
	return o == OpCreate || o == OpUpdate
}

// Doer is the subset of *http.Client used by the client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Identity   string
	HTTPClient Doer
	Timeout    time.Duration
	Policy     BackoffPolicy
	Sleeper    Sleeper
	Logger     *zap.Logger
	// Rand drives backoff jitter. Defaults to a process-seeded source.
	Rand *rand.Rand
}

// Client performs authenticated requests against the forum API with retry
// and backoff. A Client is safe for sequential use by one run; WithIdentity
// copies share the underlying HTTP client and jitter source.
type Client struct {
	baseURL  *url.URL
	apiKey   string
	identity string
	http     Doer
	policy   BackoffPolicy
	sleeper  Sleeper
	logger   *zap.Logger

	rngMu *sync.Mutex
	rng   *rand.Rand
}

// NewClient validates opts and builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("forum base URL cannot be empty")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid forum base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("forum base URL must be absolute: %q", opts.BaseURL)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("forum API key cannot be empty")
	}

	policy := opts.Policy
	if policy == (BackoffPolicy{}) {
		policy = DefaultBackoffPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	identity := opts.Identity
	if identity == "" {
		identity = DefaultIdentity
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Client{
		baseURL:  base,
		apiKey:   opts.APIKey,
		identity: identity,
		http:     httpClient,
		policy:   policy,
		sleeper:  sleeper,
		logger:   logger,
		rngMu:    &sync.Mutex{},
		rng:      rng,
	}, nil
}

// Identity returns the identity requests are attributed to by default.
func (c *Client) Identity() string {
	return c.identity
}

// Policy returns the client's backoff policy.
func (c *Client) Policy() BackoffPolicy {
	return c.policy
}

// WithIdentity returns a copy of the client that acts as handle.
func (c *Client) WithIdentity(handle string) *Client {
	cp := *c
	if handle != "" {
		cp.identity = handle
	}
	return &cp
}

// Request describes one remote call. At most one of JSON, Form and Multipart
// may be set.
type Request struct {
	Op    Operation
	Path  string
	Query url.Values
	JSON  any
	Form  url.Values
	// Multipart builds a fresh body for each attempt and returns its content type.
	Multipart func() (io.Reader, string, error)
	// ActingAs overrides the client's identity for this request.
	ActingAs string
}

// Response is a successful reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

type bodyFactory func() (io.Reader, string, error)

// Execute performs req, retrying rate-limited and transient failures under
// the client's BackoffPolicy. A non-nil error is always a *Failure.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	target := req.Path
	body, err := req.bodyFactory()
	if err != nil {
		return nil, &Failure{Kind: KindMalformed, Op: req.Op, Target: target, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	identity := c.identity
	if req.ActingAs != "" {
		identity = req.ActingAs
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Kind: KindCanceled, Op: req.Op, Target: target, Attempts: attempt - 1, Err: err}
		}

		c.logger.Debug("forum request",
			zap.String("op", string(req.Op)),
			zap.String("target", target),
			zap.String("identity", identity),
			zap.Int("attempt", attempt))

		var (
			reader      io.Reader
			contentType string
		)
		if body != nil {
			if reader, contentType, err = body(); err != nil {
				return nil, &Failure{Kind: KindMalformed, Op: req.Op, Target: target, Attempts: attempt - 1, Err: fmt.Errorf("failed to build request body: %w", err)}
			}
		}

		resp, err := c.do(ctx, req, reader, contentType, identity)
		last := attempt >= c.policy.MaxAttempts

		if err != nil {
			if ctx.Err() != nil {
				return nil, &Failure{Kind: KindCanceled, Op: req.Op, Target: target, Attempts: attempt, Err: ctx.Err()}
			}
			if last {
				c.logger.Warn("forum request failed",
					zap.String("op", string(req.Op)),
					zap.String("target", target),
					zap.Int("attempts", attempt),
					zap.Error(err))
				return nil, &Failure{Kind: KindTransient, Op: req.Op, Target: target, Attempts: attempt, Err: err}
			}
			c.logger.Warn("transient failure, retrying",
				zap.String("op", string(req.Op)),
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", c.policy.TransientDelay),
				zap.Error(err))
			if err := c.sleeper.Sleep(ctx, c.policy.TransientDelay); err != nil {
				return nil, &Failure{Kind: KindCanceled, Op: req.Op, Target: target, Attempts: attempt, Err: err}
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			if last {
				c.logger.Warn("rate limit exhausted",
					zap.String("op", string(req.Op)),
					zap.String("target", target),
					zap.Int("attempts", attempt))
				return nil, &Failure{Kind: KindRateLimited, Op: req.Op, Target: target, StatusCode: resp.StatusCode, Attempts: attempt}
			}
			delay := c.rateLimitDelay(attempt, resp.Header)
			c.logger.Info("rate limited, backing off",
				zap.String("op", string(req.Op)),
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay))
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, &Failure{Kind: KindCanceled, Op: req.Op, Target: target, Attempts: attempt, Err: err}
			}

		case resp.StatusCode == http.StatusForbidden:
			c.logger.Warn("permission denied",
				zap.String("op", string(req.Op)),
				zap.String("target", target),
				zap.String("identity", identity))
			return nil, &Failure{Kind: KindPermissionDenied, Op: req.Op, Target: target, StatusCode: resp.StatusCode, Attempts: attempt, Err: bodyError(resp.Body)}

		case resp.StatusCode == http.StatusNotFound:
			return nil, &Failure{Kind: KindNotFound, Op: req.Op, Target: target, StatusCode: resp.StatusCode, Attempts: attempt}

		default:
			c.logger.Warn("forum request rejected",
				zap.String("op", string(req.Op)),
				zap.String("target", target),
				zap.Int("status", resp.StatusCode))
			return nil, &Failure{Kind: KindOther, Op: req.Op, Target: target, StatusCode: resp.StatusCode, Attempts: attempt, Err: bodyError(resp.Body)}
		}
	}
}

// do performs a single HTTP round trip. Errors are connection-level only;
// every status code is returned as a response.
func (c *Client) do(ctx context.Context, req Request, reader io.Reader, contentType, identity string) (*Response, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Op.method(), u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Api-Key", c.apiKey)
	httpReq.Header.Set("Api-Username", identity)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) rateLimitDelay(attempt int, header http.Header) time.Duration {
	var retryAfter time.Duration
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.policy.RateLimitDelay(attempt, retryAfter, c.rng)
}

func (r Request) bodyFactory() (bodyFactory, error) {
	set := 0
	for _, ok := range []bool{r.JSON != nil, r.Form != nil, r.Multipart != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return nil, errors.New("request may carry only one body encoding")
	}

	switch {
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, err
		}
		return func() (io.Reader, string, error) {
			return bytes.NewReader(data), "application/json", nil
		}, nil
	case r.Form != nil:
		encoded := r.Form.Encode()
		return func() (io.Reader, string, error) {
			return strings.NewReader(encoded), "application/x-www-form-urlencoded", nil
		}, nil
	case r.Multipart != nil:
		return r.Multipart, nil
	}
	return nil, nil
}

// bodyError extracts the forum's error message from a failure body.
func bodyError(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var payload struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Errors) > 0 {
			return errors.New(strings.Join(payload.Errors, "; "))
		}
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return errors.New(text)
}
