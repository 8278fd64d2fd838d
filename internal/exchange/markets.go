// Package exchange is the HTTPS markets/leader-status client and WebSocket
// trade-stream client for the exchange (spec §6), grounded on the teacher's
// polymarket/client.go retry-on-5xx doRequest pattern.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/surveil/smartmoney/internal/models"
)

// MarketsClient fetches paginated market metadata from the exchange's
// Gamma-API-like HTTPS endpoint.
type MarketsClient struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryDelayBase time.Duration
}

// NewMarketsClient constructs a markets client bound to baseURL, throttled
// to ratePerSecond outbound requests (spec §5 rate limits and back-pressure).
func NewMarketsClient(baseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration, ratePerSecond float64) *MarketsClient {
	return &MarketsClient{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        newLimiter(ratePerSecond),
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

func newLimiter(ratePerSecond float64) *rate.Limiter {
	if ratePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), 1)
}

// rawEvent mirrors the exchange's event/market wire schema (spec §6).
type rawEvent struct {
	Markets []rawMarket `json:"markets"`
}

type rawMarket struct {
	ID            string   `json:"id"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Question      string   `json:"question"`
	Description   string   `json:"description"`
	EndDate       string   `json:"endDate"`
	ClobTokenIds  []string `json:"clobTokenIds"`
	OutcomePrices []string `json:"outcomePrices"`
	Volume24hr    float64  `json:"volume24hr"`
	Closed        bool     `json:"closed"`
}

// FetchMarkets pages through the markets endpoint up to cap results,
// decoding {id, conditionId, slug, question, description, endDate,
// clobTokenIds, outcomePrices, volume24hr, closed} per market.
func (c *MarketsClient) FetchMarkets(ctx context.Context, fetchCap int) ([]models.Market, error) {
	var out []models.Market
	cursor := ""
	const pageSize = 100

	for len(out) < fetchCap {
		u, err := url.Parse(c.baseURL + "/events")
		if err != nil {
			return nil, fmt.Errorf("failed to build markets url: %w", err)
		}
		q := u.Query()
		q.Set("active", "true")
		q.Set("closed", "false")
		q.Set("limit", fmt.Sprintf("%d", pageSize))
		if cursor != "" {
			q.Set("offset", cursor)
		}
		u.RawQuery = q.Encode()

		resp, err := c.doRequest(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch markets page: %w", err)
		}

		var events []rawEvent
		decodeErr := json.NewDecoder(resp.Body).Decode(&events)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode markets page: %w", decodeErr)
		}
		if len(events) == 0 {
			break
		}

		for _, ev := range events {
			for _, rm := range ev.Markets {
				m, ok := toMarket(rm)
				if !ok {
					continue
				}
				out = append(out, m)
				if len(out) >= fetchCap {
					return out, nil
				}
			}
		}

		cursor = fmt.Sprintf("%d", len(out))
		if len(events) < 1 {
			break
		}
	}
	return out, nil
}

func toMarket(rm rawMarket) (models.Market, bool) {
	if len(rm.ClobTokenIds) != 2 {
		return models.Market{}, false
	}
	endTime, err := time.Parse(time.RFC3339, rm.EndDate)
	if err != nil {
		return models.Market{}, false
	}
	var yesPrice, noPrice float64
	if len(rm.OutcomePrices) == 2 {
		if p, err := decimal.NewFromString(rm.OutcomePrices[0]); err == nil {
			yesPrice, _ = p.Float64()
		}
		if p, err := decimal.NewFromString(rm.OutcomePrices[1]); err == nil {
			noPrice, _ = p.Float64()
		}
	}
	return models.Market{
		ID:          rm.ID,
		ConditionID: rm.ConditionID,
		Slug:        rm.Slug,
		Question:    rm.Question,
		Description: rm.Description,
		EndTime:     endTime,
		YesTokenID:  rm.ClobTokenIds[0],
		NoTokenID:   rm.ClobTokenIds[1],
		YesPrice:    yesPrice,
		NoPrice:     noPrice,
		Volume24hr:  rm.Volume24hr,
		Closed:      rm.Closed,
	}, true
}

// LeaderStatusClient fetches the resolution/price snapshot for one market
// (spec §6 leader status endpoint).
type LeaderStatusClient struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryDelayBase time.Duration
}

// NewLeaderStatusClient constructs a leader-status client bound to baseURL,
// throttled to ratePerSecond outbound requests.
func NewLeaderStatusClient(baseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration, ratePerSecond float64) *LeaderStatusClient {
	return &LeaderStatusClient{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        newLimiter(ratePerSecond),
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

type rawLeaderStatus struct {
	ID             string `json:"id"`
	Question       string `json:"question"`
	Closed         bool   `json:"closed"`
	Resolved       bool   `json:"resolved"`
	Outcome        string `json:"outcome"`
	WinningOutcome string `json:"winning_outcome"`
	Tokens         []struct {
		Outcome string `json:"outcome"`
		Price   string `json:"price"`
	} `json:"tokens"`
}

// FetchStatus retrieves the leader's resolution/price snapshot by market id.
func (c *LeaderStatusClient) FetchStatus(ctx context.Context, marketID string) (*models.LeaderStatus, error) {
	u := c.baseURL + "/markets/" + url.PathEscape(marketID)
	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leader status: %w", err)
	}
	defer resp.Body.Close()

	var raw rawLeaderStatus
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode leader status: %w", err)
	}

	outcome := raw.Outcome
	if outcome == "" {
		outcome = raw.WinningOutcome
	}
	var yesPrice float64
	for _, tok := range raw.Tokens {
		if tok.Outcome == "Yes" || tok.Outcome == "YES" {
			if p, err := decimal.NewFromString(tok.Price); err == nil {
				yesPrice, _ = p.Float64()
			}
		}
	}

	return &models.LeaderStatus{
		ID:       raw.ID,
		Question: raw.Question,
		Closed:   raw.Closed,
		Resolved: raw.Resolved,
		Outcome:  outcome,
		YesPrice: yesPrice,
	}, nil
}

// doRequest performs an HTTP GET with linear-backoff retry on transport
// errors and 5xx responses (grounded on the teacher's doRequest).
func (c *LeaderStatusClient) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	return doRequest(ctx, c.httpClient, c.limiter, urlStr, c.maxRetries, c.retryDelayBase)
}

func (c *MarketsClient) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	return doRequest(ctx, c.httpClient, c.limiter, urlStr, c.maxRetries, c.retryDelayBase)
}

func doRequest(ctx context.Context, httpClient *http.Client, limiter *rate.Limiter, urlStr string, maxRetries int, retryDelayBase time.Duration) (*http.Response, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(retryDelayBase * time.Duration(i+1))
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(retryDelayBase * time.Duration(i+1))
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited: 429")
			time.Sleep(retryDelayBase * time.Duration(i+1))
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
