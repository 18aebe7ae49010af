package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	tokenPath       = "/oauth/token"
	collectionsPath = "/v1/collections"
	payoutsPath     = "/v1/payouts"
	statusPath      = "/v1/transactions/"

	// tokens are refreshed this long before the gateway expires them
	tokenSkew = time.Minute

	maxErrorBody = 512
)

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Shortcode       string
	CallbackBaseURL string
	Timeout         time.Duration
	MaxRetries      uint64
}

// HTTPClient talks to the gateway's JSON API. Each attempt is bounded by
// Config.Timeout and each call by Config.MaxRetries.
type HTTPClient struct {
	cfg           Config
	http          *http.Client
	retryInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type Option func(*HTTPClient)

// WithRetryInterval sets the initial backoff between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *HTTPClient) { c.retryInterval = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

func NewHTTPClient(cfg Config, opts ...Option) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	c := &HTTPClient{
		cfg:           cfg,
		http:          &http.Client{Timeout: cfg.Timeout},
		retryInterval: 500 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type initiateResponse struct {
	CorrelationID       string `json:"correlation_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

type collectionBody struct {
	Shortcode   string       `json:"shortcode"`
	Phone       string       `json:"phone"`
	Amount      domain.Money `json:"amount"`
	Reference   string       `json:"reference"`
	CallbackURL string       `json:"callback_url"`
}

type payoutBody struct {
	Shortcode  string       `json:"shortcode"`
	Phone      string       `json:"phone"`
	Amount     domain.Money `json:"amount"`
	Reference  string       `json:"reference"`
	ResultURL  string       `json:"result_url"`
	TimeoutURL string       `json:"timeout_url"`
}

type statusResponse struct {
	Status     string `json:"status"`
	ResultCode string `json:"result_code"`
	ResultDesc string `json:"result_desc"`
	Receipt    string `json:"receipt"`
}

func (c *HTTPClient) GetAccessToken(ctx context.Context) (string, error) {
	var token string
	err := c.retry(ctx, "token", func() error {
		var err error
		token, err = c.cachedToken(ctx)
		return err
	})
	return token, err
}

func (c *HTTPClient) InitiateCollection(ctx context.Context, req CollectionRequest) (string, error) {
	body := collectionBody{
		Shortcode:   c.cfg.Shortcode,
		Phone:       req.Phone,
		Amount:      req.Amount,
		Reference:   req.Reference,
		CallbackURL: c.cfg.CallbackBaseURL + "/callbacks/collection",
	}
	return c.initiate(ctx, "collection", collectionsPath, body)
}

func (c *HTTPClient) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	body := payoutBody{
		Shortcode:  c.cfg.Shortcode,
		Phone:      req.Phone,
		Amount:     req.Amount,
		Reference:  req.Reference,
		ResultURL:  c.cfg.CallbackBaseURL + "/callbacks/payout-result",
		TimeoutURL: c.cfg.CallbackBaseURL + "/callbacks/payout-timeout",
	}
	return c.initiate(ctx, "payout", payoutsPath, body)
}

func (c *HTTPClient) initiate(ctx context.Context, op, path string, body any) (string, error) {
	var out initiateResponse
	err := c.retry(ctx, op, func() error {
		return c.call(ctx, http.MethodPost, path, body, &out)
	})
	if err != nil {
		return "", err
	}
	if out.ResponseCode != "0" || out.CorrelationID == "" {
		return "", fmt.Errorf("%w: %s %s", ErrRejected, out.ResponseCode, out.ResponseDescription)
	}
	return out.CorrelationID, nil
}

func (c *HTTPClient) QueryTransactionStatus(ctx context.Context, correlationID string) (TransactionStatus, error) {
	var out statusResponse
	err := c.retry(ctx, "status", func() error {
		return c.call(ctx, http.MethodGet, statusPath+correlationID, nil, &out)
	})
	if err != nil {
		return TransactionStatus{}, err
	}
	status := strings.ToLower(out.Status)
	switch status {
	case domain.QueryPending, domain.QuerySuccess, domain.QueryFailed:
	default:
		return TransactionStatus{}, fmt.Errorf("%w: unknown transaction status %q", ErrRejected, out.Status)
	}
	return TransactionStatus{
		Status:     status,
		ResultCode: out.ResultCode,
		ResultDesc: out.ResultDesc,
		Receipt:    out.Receipt,
	}, nil
}

func (c *HTTPClient) retry(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		zap.L().Warn("gateway call failed, retrying", zap.String("operation", op), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		observability.IncrementGatewayCall(op, "error")
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	observability.IncrementGatewayCall(op, "ok")
	return nil
}

func (c *HTTPClient) cachedToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, http.NoBody)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var out tokenResponse
	if err := c.send(ctx, req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: empty access token", ErrRejected))
	}
	c.token = out.AccessToken
	c.expiry = c.now().Add(time.Duration(out.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *HTTPClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call performs one authenticated attempt.
func (c *HTTPClient) call(ctx context.Context, method, path string, body, out any) error {
	token, err := c.cachedToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	err = c.send(ctx, req, out)
	var unauthorized *statusError
	if errors.As(err, &unauthorized) && unauthorized.code == http.StatusUnauthorized {
		c.invalidateToken()
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// send classifies the outcome: transport errors, 401, 429 and 5xx are
// retryable and wrap ErrGatewayUnavailable; other 4xx are permanent.
func (c *HTTPClient) send(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err()))
		}
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &statusError{code: resp.StatusCode, body: string(snippet)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, se)
		}
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrRejected, se))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode gateway response: %w", err))
	}
	return nil
}
