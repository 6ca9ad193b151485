// Package tmdb is the search provider client. Results are returned as raw
// classify.Record values; deciding what they are is left to package classify.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/classify"
	"github.com/d60-Lab/duowatch/internal/metrics"
	"github.com/d60-Lab/duowatch/pkg/logger"
)

// Page is one page of provider results.
type Page struct {
	Page         int               `json:"page"`
	TotalPages   int               `json:"total_pages"`
	TotalResults int               `json:"total_results"`
	Results      []classify.Record `json:"results"`
}

// SearchQuery maps onto /search/{type}.
type SearchQuery struct {
	Query              string
	Type               string // movie | tv | person | multi
	Page               int
	Language           string
	IncludeAdult       bool
	Year               string
	PrimaryReleaseYear string
	Region             string
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("tmdb returned %d", e.Code) }

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// abandonedError 调用方已放弃请求，不代表服务端故障
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return "request abandoned: " + e.err.Error() }

func (e *abandonedError) Unwrap() error { return e.err }

type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewClient(cfg config.TMDBConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetQueryParam("api_key", cfg.APIKey)

	rps := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		rps = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	c := &Client{
		http:       httpClient,
		limiter:    rate.NewLimiter(rps, burst),
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: cfg.BreakerHalfOpenN,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx 与调用方取消都不计入熔断
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			var ab *abandonedError
			if errors.As(err, &ab) {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ProviderBreakerState.Set(float64(to))
			logger.Warn("provider circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// Search runs a text search. An empty Type searches all kinds.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*Page, error) {
	typ := q.Type
	if typ == "" {
		typ = "multi"
	}
	params := map[string]string{
		"query":         q.Query,
		"include_adult": strconv.FormatBool(q.IncludeAdult),
		"page":          strconv.Itoa(max(q.Page, 1)),
	}
	setIf(params, "language", q.Language)
	if typ != "person" {
		setIf(params, "year", q.Year)
		setIf(params, "primary_release_year", q.PrimaryReleaseYear)
		setIf(params, "region", q.Region)
	}
	return c.page(ctx, "search", "/search/"+typ, params)
}

// Popular lists popular titles of one media type.
func (c *Client) Popular(ctx context.Context, mediaType string, page int, language string) (*Page, error) {
	params := map[string]string{"page": strconv.Itoa(max(page, 1))}
	setIf(params, "language", language)
	return c.page(ctx, "popular", "/"+mediaType+"/popular", params)
}

// Trending lists trending titles of one media type over window (day|week).
func (c *Client) Trending(ctx context.Context, mediaType, window string, page int, language string) (*Page, error) {
	params := map[string]string{"page": strconv.Itoa(max(page, 1))}
	setIf(params, "language", language)
	return c.page(ctx, "trending", "/trending/"+mediaType+"/"+window, params)
}

func (c *Client) page(ctx context.Context, endpoint, path string, params map[string]string) (*Page, error) {
	body, err := c.get(ctx, path, params)
	metrics.ProviderRequests.WithLabelValues(endpoint, metrics.Outcome(err, nil)).Inc()
	if err != nil {
		return nil, err
	}
	var p Page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Network(fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return &p, nil
}

// get 读操作：限流 + 熔断 + 指数退避重试
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.breaker.Execute(func() ([]byte, error) {
			resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &abandonedError{err: ctx.Err()}
				}
				return nil, err
			}
			if resp.IsError() {
				return nil, &StatusError{Code: resp.StatusCode()}
			}
			return resp.Body(), nil
		})
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		body = b
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, apperr.Network(err)
	}
	return body, nil
}

func setIf(params map[string]string, k, v string) {
	if v != "" {
		params[k] = v
	}
}
