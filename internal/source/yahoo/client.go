// Package yahoo fetches OHLCV bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"trendwatch/internal/model"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	chartPath      = "/v8/finance/chart/{symbol}"
	userAgent      = "Mozilla/5.0 (compatible; trendwatch/1.0)"
)

// ErrNoData is returned when the API answers without a usable result.
var ErrNoData = errors.New("yahoo: no data")

// Options tunes the client. Zero values mean the defaults.
type Options struct {
	Timeout    time.Duration // per request, default 10s
	Retries    int           // on 429/5xx, default 2
	RatePerSec float64       // request pacing, default 2/s
}

// Client is a rate-limited chart API client. Safe for concurrent use.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = 2
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})

	return &Client{
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Fetch downloads the bars of inst on tf. The timeframe interval and
// lookback are passed through as the API's interval and range.
func (c *Client) Fetch(ctx context.Context, inst model.Instrument, tf model.Timeframe) (model.BarSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	lookback := tf.Lookback
	if lookback == "" {
		lookback = "max"
	}

	var out chartResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", inst.Symbol).
		SetQueryParams(map[string]string{
			"interval": tf.Interval,
			"range":    lookback,
		}).
		SetResult(&out).
		SetError(&out).
		Get(chartPath)
	if err != nil {
		return nil, fmt.Errorf("yahoo %s@%s: %w", inst.Symbol, tf.Interval, err)
	}
	if e := out.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo %s@%s: %s: %s", inst.Symbol, tf.Interval, e.Code, e.Description)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo %s@%s: status %d", inst.Symbol, tf.Interval, resp.StatusCode())
	}
	if len(out.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w for %s@%s", ErrNoData, inst.Symbol, tf.Interval)
	}
	return toSeries(out.Chart.Result[0]), nil
}

// toSeries zips the columnar quote arrays into bars. Rows with any missing
// OHLC value are skipped; a missing volume counts as zero.
func toSeries(r chartResult) model.BarSeries {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]

	at := func(col []*float64, i int) (float64, bool) {
		if i >= len(col) || col[i] == nil {
			return 0, false
		}
		return *col[i], true
	}

	out := make(model.BarSeries, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, ok1 := at(q.Open, i)
		h, ok2 := at(q.High, i)
		l, ok3 := at(q.Low, i)
		cl, ok4 := at(q.Close, i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		v, _ := at(q.Volume, i)
		out = append(out, model.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: v,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
