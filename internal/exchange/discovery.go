package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"snipebot-go/internal/config"
	"snipebot-go/internal/metrics"
	"snipebot-go/internal/signal"
)

const (
	discoverySource   = "dexscreener"
	tokensPerRequest  = 30
	defaultKnownLimit = 10_000
)

// DexScreenerDiscovery polls the latest token profiles and emits one
// DiscoveryEvent per token it has not seen before.
type DexScreenerDiscovery struct {
	log    zerolog.Logger
	client *dexscreenerClient
	cfg    config.Discovery
	chains map[string]struct{}
	now    func() time.Time

	mu         sync.Mutex
	known      map[string]struct{}
	order      []string
	knownLimit int
}

// NewDexScreenerDiscovery constructs a discovery service; returns nil if disabled.
func NewDexScreenerDiscovery(log zerolog.Logger, cfg config.Discovery) *DexScreenerDiscovery {
	if !cfg.Enabled {
		return nil
	}
	chains := make(map[string]struct{}, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		if chain = strings.ToLower(strings.TrimSpace(chain)); chain != "" {
			chains[chain] = struct{}{}
		}
	}
	if len(chains) == 0 && cfg.DexScreener.DefaultChain != "" {
		chains[strings.ToLower(cfg.DexScreener.DefaultChain)] = struct{}{}
	}
	return &DexScreenerDiscovery{
		log:        log.With().Str("component", "discovery").Logger(),
		client:     newDexScreenerClient(cfg.DexScreener.BaseURL, cfg.DexScreener.RequestsPerMinute),
		cfg:        cfg,
		chains:     chains,
		now:        time.Now,
		known:      make(map[string]struct{}),
		knownLimit: defaultKnownLimit,
	}
}

// Run refreshes on the configured interval and publishes events to out until
// ctx is done. It closes out on return.
func (d *DexScreenerDiscovery) Run(ctx context.Context, out chan<- signal.DiscoveryEvent) error {
	defer close(out)
	interval := time.Duration(d.cfg.RefreshInterval) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	d.log.Info().Dur("interval", interval).Str("backpressure", d.cfg.Backpressure).Msg("discovery started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.Refresh(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn().Err(err).Msg("discovery refresh failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh performs a single discovery cycle. Events resolved before a failed
// pair lookup are still published; a token is only marked known once its
// event has been handed to the backpressure policy, so anything not published
// is retried on the next refresh.
func (d *DexScreenerDiscovery) Refresh(ctx context.Context, out chan<- signal.DiscoveryEvent) error {
	events, discoverErr := d.discover(ctx)
	for _, ev := range events {
		if err := d.publish(ctx, out, ev); err != nil {
			return err
		}
		d.remember(ev.TokenID)
	}
	return discoverErr
}

func (d *DexScreenerDiscovery) discover(ctx context.Context) ([]signal.DiscoveryEvent, error) {
	var profiles []dexscreenerProfile
	if err := d.client.getJSON(ctx, "/token-profiles/latest/v1", &profiles); err != nil {
		return nil, err
	}
	limit := d.cfg.MaxTokens
	if limit <= 0 {
		limit = tokensPerRequest
	}
	fresh := make([]string, 0, limit)
	batch := make(map[string]struct{})
	for _, p := range profiles {
		if len(fresh) >= limit {
			break
		}
		if _, ok := d.chains[strings.ToLower(p.ChainID)]; len(d.chains) > 0 && !ok {
			continue
		}
		addr := strings.TrimSpace(p.TokenAddress)
		if addr == "" || d.isKnown(addr) {
			continue
		}
		if _, dup := batch[addr]; dup {
			continue
		}
		batch[addr] = struct{}{}
		fresh = append(fresh, addr)
	}

	events := make([]signal.DiscoveryEvent, 0, len(fresh))
	for start := 0; start < len(fresh); start += tokensPerRequest {
		end := min(start+tokensPerRequest, len(fresh))
		chunk := fresh[start:end]
		pairs, err := d.client.tokenPairs(ctx, chunk)
		if err != nil {
			return events, err
		}
		detected := d.now().UTC()
		for _, addr := range chunk {
			pair, ok := deepestPair(pairs, addr)
			if !ok {
				// no priced pool yet; try again next refresh
				continue
			}
			events = append(events, eventFromPair(pair, addr, detected))
		}
	}
	return events, nil
}

func eventFromPair(pair *dexscreenerPair, addr string, detected time.Time) signal.DiscoveryEvent {
	price, _ := pair.priceUSD()
	observed := detected
	if pair.PairCreatedAt > 0 {
		observed = time.UnixMilli(pair.PairCreatedAt).UTC()
	}
	return signal.DiscoveryEvent{
		TokenID:           addr,
		Symbol:            tokenSymbol(pair.BaseToken.Symbol, pair.BaseToken.Name, addr),
		ObservedPrice:     price,
		LiquidityUSD:      pair.Liquidity.USD,
		Volume24hUSD:      pair.volume24h(),
		DexSource:         strings.ToLower(pair.DexID),
		ObservedAt:        observed,
		PriceChange24hPct: pair.PriceChange.H24,
		PairAddress:       pair.PairAddress,
	}
}

// publish applies the backpressure policy: drop discards the event when the
// channel is full, block waits for room or cancellation.
func (d *DexScreenerDiscovery) publish(ctx context.Context, out chan<- signal.DiscoveryEvent, ev signal.DiscoveryEvent) error {
	if d.cfg.Backpressure == config.BackpressureBlock {
		select {
		case out <- ev:
			metrics.DiscoveryEvents.WithLabelValues(discoverySource).Inc()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case out <- ev:
		metrics.DiscoveryEvents.WithLabelValues(discoverySource).Inc()
	default:
		metrics.DiscoveryDropped.Inc()
		d.log.Warn().Str("token", ev.TokenID).Str("reason", "channel full").Msg("discovery event dropped")
	}
	return nil
}

func (d *DexScreenerDiscovery) isKnown(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.known[addr]
	return ok
}

// remember adds addr to the known set, evicting the oldest entry past the limit.
func (d *DexScreenerDiscovery) remember(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[addr]; ok {
		return
	}
	d.known[addr] = struct{}{}
	d.order = append(d.order, addr)
	if len(d.order) > d.knownLimit {
		delete(d.known, d.order[0])
		d.order = d.order[1:]
	}
}
