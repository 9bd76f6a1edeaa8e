package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"snipebot-go/internal/execution"
)

// JupiterClient talks to the Jupiter swap and price APIs. It implements
// execution.Quoter and execution.PriceSource.
type JupiterClient struct {
	Base                string
	PriceBase           string
	Http                *http.Client
	PriorityFeeLamports uint64
	// Fees, when set, suggests a compute-unit price that replaces the static fee.
	Fees FeeEstimator

	limiter *rate.Limiter
}

// FeeEstimator suggests a compute-unit price in micro-lamports.
type FeeEstimator interface {
	PriorityFee(ctx context.Context) (uint64, error)
}

type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	OtherAmount    string          `json:"otherAmountThreshold"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routePlanStep `json:"routePlan"`
}

type routePlanStep struct {
	SwapInfo struct {
		Label string `json:"label"`
	} `json:"swapInfo"`
}

// NewJupiterClient builds a client. rps caps outbound requests per second; zero disables the cap.
func NewJupiterClient(base, priceBase string, rps float64) *JupiterClient {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &JupiterClient{
		Base:      strings.TrimRight(base, "/"),
		PriceBase: strings.TrimRight(priceBase, "/"),
		Http:      &http.Client{Timeout: 8 * time.Second},
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Quote prices a swap. amount is in smallest units (lamports for SOL; token decimals apply).
func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*execution.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	q.Set("onlyDirectRoutes", "false")

	raw, err := j.do(ctx, http.MethodGet, j.Base+"/v6/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	var out quoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, execution.Permanent(fmt.Errorf("jupiter quote decode: %w", err))
	}
	inAmount, _ := strconv.ParseUint(out.InAmount, 10, 64)
	outAmount, err := strconv.ParseUint(out.OutAmount, 10, 64)
	if err != nil {
		return nil, execution.Permanent(fmt.Errorf("jupiter quote outAmount %q: %w", out.OutAmount, err))
	}
	impact, _ := strconv.ParseFloat(out.PriceImpactPct, 64)
	labels := make([]string, 0, len(out.RoutePlan))
	for _, step := range out.RoutePlan {
		labels = append(labels, step.SwapInfo.Label)
	}
	return &execution.Quote{
		InputMint:      out.InputMint,
		OutputMint:     out.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		SlippageBps:    out.SlippageBps,
		PriceImpactPct: impact,
		Route:          strings.Join(labels, ">"),
		Raw:            raw,
	}, nil
}

// BuildSwapTransaction asks Jupiter for a ready-to-sign transaction for quote.
func (j *JupiterClient) BuildSwapTransaction(ctx context.Context, quote *execution.Quote, wallet string, wrapNative bool) ([]byte, error) {
	payload := map[string]any{
		"userPublicKey":           wallet,
		"wrapAndUnwrapSol":        wrapNative,
		"asLegacyTransaction":     false,
		"useTokenLedger":          false,
		"dynamicComputeUnitLimit": true,
		"quoteResponse":           quote.Raw,
	}
	if micro, ok := j.computeUnitPrice(ctx); ok {
		payload["computeUnitPriceMicroLamports"] = micro
	} else {
		payload["prioritizationFeeLamports"] = j.PriorityFeeLamports
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, execution.Permanent(err)
	}
	raw, err := j.do(ctx, http.MethodPost, j.Base+"/v6/swap", body)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: %w", err)
	}
	var sr struct {
		SwapTransaction string `json:"swapTransaction"` // base64-encoded tx (unsigned)
	}
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, execution.Permanent(fmt.Errorf("jupiter swap decode: %w", err))
	}
	tx, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil || len(tx) == 0 {
		return nil, execution.Permanent(fmt.Errorf("decode swap tx: %w", err))
	}
	return tx, nil
}

// computeUnitPrice asks the estimator for a fee; false means use the static fee.
func (j *JupiterClient) computeUnitPrice(ctx context.Context) (uint64, bool) {
	if j.Fees == nil {
		return 0, false
	}
	micro, err := j.Fees.PriorityFee(ctx)
	if err != nil || micro == 0 {
		return 0, false
	}
	return micro, true
}

// PriceOf returns the USD price of tokenID from the price API.
func (j *JupiterClient) PriceOf(ctx context.Context, tokenID string) (decimal.Decimal, bool, error) {
	raw, err := j.do(ctx, http.MethodGet, j.PriceBase+"/price/v2?ids="+url.QueryEscape(tokenID), nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter price: %w", err)
	}
	var pr struct {
		Data map[string]*struct {
			ID    string `json:"id"`
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &pr); err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter price decode: %w", err)
	}
	entry := pr.Data[tokenID]
	if entry == nil || entry.Price == "" {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("jupiter price %q: %w", entry.Price, err)
	}
	return price, price.IsPositive(), nil
}

// do issues one rate-limited request. 4xx other than 429 is permanent.
func (j *JupiterClient) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, execution.Permanent(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := j.Http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("status %d: %s", code, msg)
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return execution.Permanent(err)
	}
	return err
}
