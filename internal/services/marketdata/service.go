package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Defaults for the retrieval policy.
const (
	DefaultFetchLookbackDays = 7
	DefaultQuoteStaleness    = 5 * time.Minute
)

// ErrNotFound is returned when both the store and the external fetch bounds
// have been exhausted without an observation.
var ErrNotFound = errors.New("market data not found")

// Config is the immutable retrieval policy of the service, fixed at
// construction. The zero value of every field selects a sensible default.
type Config struct {
	// StoreLookbackDays bounds backward store scans: walk day-by-day from
	// the query date and return the first exact-date hit. Nil means
	// unbounded: scan the full history and return the latest observation at
	// or before the query date.
	StoreLookbackDays *int

	// FetchLookbackDays bounds the backward day walk on external fetch.
	FetchLookbackDays int

	// QuoteStaleness is the age under which a cached live quote is served
	// without fetching.
	QuoteStaleness time.Duration

	// FxIdempotentWrites applies the price staleness check to FX write-back.
	// Off by default: FX close fetches append unconditionally.
	FxIdempotentWrites bool

	// Routers and the generic fallback provider. Any of these may be nil.
	EquityRouter *SourceRouter
	CryptoRouter *SourceRouter
	FxRouter     *FxRouter
	Provider     interfaces.MarketDataProvider

	// Now is the clock used for staleness checks and synthesized rates.
	Now func() time.Time
}

// Service resolves market observations against the store with external
// source fallback and idempotent write-back.
type Service struct {
	store  interfaces.ObservationStore
	cfg    Config
	logger *common.Logger
	now    func() time.Time

	writeMu sync.Mutex
	writes  map[string]*sync.Mutex // per-(key,date,kind) write serialization
}

// NewService creates a market data service with the given policy.
func NewService(store interfaces.ObservationStore, cfg Config, logger *common.Logger) *Service {
	if cfg.FetchLookbackDays <= 0 {
		cfg.FetchLookbackDays = DefaultFetchLookbackDays
	}
	if cfg.QuoteStaleness <= 0 {
		cfg.QuoteStaleness = DefaultQuoteStaleness
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    cfg.Now,
		writes: make(map[string]*sync.Mutex),
	}
}

// lockWrite serializes the check-then-write sequence for one logical
// observation slot. Two fetches racing for the same slot must not both pass
// the staleness check.
func (s *Service) lockWrite(slot string) func() {
	s.writeMu.Lock()
	mu, ok := s.writes[slot]
	if !ok {
		mu = &sync.Mutex{}
		s.writes[slot] = mu
	}
	s.writeMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// --- store-only retrieval ---

// PriceFromStore retrieves a close price from the store only. In unbounded
// mode the latest observation at or before the query date wins, ties broken
// by latest timestamp. In bounded mode the walk stops at the first
// exact-date hit; the two modes intentionally differ in tie-break semantics.
func (s *Service) PriceFromStore(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error) {
	key := asset.Key()

	if s.cfg.StoreLookbackDays == nil {
		points, err := s.store.GetAllPrices(ctx, key)
		if err != nil {
			return nil, err
		}
		var best *models.PricePoint
		for i := range points {
			p := &points[i]
			if p.Kind != models.KindClose || p.AsOf.After(on) {
				continue
			}
			if best == nil || p.AsOf.After(best.AsOf) ||
				(p.AsOf.Equal(best.AsOf) && p.Timestamp.After(best.Timestamp)) {
				best = p
			}
		}
		if best == nil {
			return nil, nil
		}
		cp := *best
		return &cp, nil
	}

	for i := 0; i <= *s.cfg.StoreLookbackDays; i++ {
		p, err := s.store.GetPrice(ctx, key, on.AddDays(-i), models.KindClose)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// FxFromStore is the FX counterpart of PriceFromStore.
func (s *Service) FxFromStore(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error) {
	base = models.NormalizeCurrency(base)
	quote = models.NormalizeCurrency(quote)

	if s.cfg.StoreLookbackDays == nil {
		rates, err := s.store.GetAllFxRates(ctx, base, quote)
		if err != nil {
			return nil, err
		}
		var best *models.FxRatePoint
		for i := range rates {
			r := &rates[i]
			if r.Kind != models.KindClose || r.AsOf.After(on) {
				continue
			}
			if best == nil || r.AsOf.After(best.AsOf) ||
				(r.AsOf.Equal(best.AsOf) && r.Timestamp.After(best.Timestamp)) {
				best = r
			}
		}
		if best == nil {
			return nil, nil
		}
		cp := *best
		return &cp, nil
	}

	for i := 0; i <= *s.cfg.StoreLookbackDays; i++ {
		r, err := s.store.GetFxRate(ctx, base, quote, on.AddDays(-i), models.KindClose)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, nil
}

// --- close retrieval with external fallback ---

// PriceClose retrieves a close price: store first, then an external fetch
// walking backward up to the fetch lookback, persisting anything fetched.
func (s *Service) PriceClose(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error) {
	cached, err := s.PriceFromStore(ctx, asset, on)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	fetched, err := s.fetchCloseWalk(ctx, asset, on)
	if err != nil {
		return nil, err
	}
	if fetched != nil {
		return fetched, nil
	}

	return nil, fmt.Errorf("no close price for %s on or within %d days before %s: %w",
		asset.Key(), s.cfg.FetchLookbackDays, on, ErrNotFound)
}

// PriceCloseForce inverts the priority: external fetch first, store as
// fallback. The boolean reports whether the observation was freshly fetched.
func (s *Service) PriceCloseForce(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error) {
	fetched, err := s.fetchCloseWalk(ctx, asset, on)
	if err != nil {
		return nil, false, err
	}
	if fetched != nil {
		return fetched, true, nil
	}

	cached, err := s.PriceFromStore(ctx, asset, on)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		return cached, false, nil
	}

	return nil, false, fmt.Errorf("no close price for %s on or within %d days before %s: %w",
		asset.Key(), s.cfg.FetchLookbackDays, on, ErrNotFound)
}

// fetchCloseWalk walks backward day-by-day attempting an external close
// fetch, persisting and returning the first hit. Nil when every day misses.
func (s *Service) fetchCloseWalk(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error) {
	key := asset.Key()
	s.ensureRegistered(ctx, asset, key)

	for i := 0; i <= s.cfg.FetchLookbackDays; i++ {
		day := on.AddDays(-i)
		p := s.fetchClose(ctx, asset, key, day)
		if p == nil {
			continue
		}
		if err := s.StorePrice(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}

// fetchClose consults the type-specific router, then the generic provider.
func (s *Service) fetchClose(ctx context.Context, asset models.Asset, key models.AssetKey, on models.Day) *models.PricePoint {
	if router := s.routerFor(asset.Kind); router != nil {
		if p := router.FetchClose(ctx, asset, key, on); p != nil {
			return s.normalizePrice(p, key, on, models.KindClose)
		}
	}
	if s.cfg.Provider != nil {
		p, err := s.cfg.Provider.FetchPrice(ctx, asset, key, on)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("provider", s.cfg.Provider.Name()).
				Str("asset", string(key)).
				Msg("Generic provider failed fetching price")
			return nil
		}
		if p != nil {
			return s.normalizePrice(p, key, on, models.KindClose)
		}
	}
	return nil
}

func (s *Service) routerFor(kind models.AssetKind) *SourceRouter {
	switch kind {
	case models.AssetEquity:
		return s.cfg.EquityRouter
	case models.AssetCrypto:
		return s.cfg.CryptoRouter
	}
	return nil
}

// normalizePrice fills identity fields a source may have left blank.
func (s *Service) normalizePrice(p *models.PricePoint, key models.AssetKey, on models.Day, kind models.ObservationKind) *models.PricePoint {
	if p.AssetKey == "" {
		p.AssetKey = key
	}
	if p.AsOf.IsZero() {
		p.AsOf = on
	}
	if p.Kind == "" {
		p.Kind = kind
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now()
	}
	return p
}

// FxClose retrieves a close FX rate: identity pairs short-circuit, then
// store, then external fetch with write-back.
func (s *Service) FxClose(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error) {
	base = models.NormalizeCurrency(base)
	quote = models.NormalizeCurrency(quote)
	if base == quote {
		return models.IdentityFxRate(base, on, s.now()), nil
	}

	cached, err := s.FxFromStore(ctx, base, quote, on)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	fetched, err := s.fetchFxWalk(ctx, base, quote, on)
	if err != nil {
		return nil, err
	}
	if fetched != nil {
		return fetched, nil
	}

	return nil, fmt.Errorf("no close rate for %s/%s on or within %d days before %s: %w",
		base, quote, s.cfg.FetchLookbackDays, on, ErrNotFound)
}

// FxCloseForce is the fetch-first variant of FxClose. Identity pairs still
// short-circuit, reported as not fetched.
func (s *Service) FxCloseForce(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, bool, error) {
	base = models.NormalizeCurrency(base)
	quote = models.NormalizeCurrency(quote)
	if base == quote {
		return models.IdentityFxRate(base, on, s.now()), false, nil
	}

	fetched, err := s.fetchFxWalk(ctx, base, quote, on)
	if err != nil {
		return nil, false, err
	}
	if fetched != nil {
		return fetched, true, nil
	}

	cached, err := s.FxFromStore(ctx, base, quote, on)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		return cached, false, nil
	}

	return nil, false, fmt.Errorf("no close rate for %s/%s on or within %d days before %s: %w",
		base, quote, s.cfg.FetchLookbackDays, on, ErrNotFound)
}

// fetchFxWalk walks backward day-by-day attempting an external FX fetch,
// persisting and returning the first hit.
func (s *Service) fetchFxWalk(ctx context.Context, base, quote string, on models.Day) (*models.FxRatePoint, error) {
	for i := 0; i <= s.cfg.FetchLookbackDays; i++ {
		day := on.AddDays(-i)
		r := s.fetchFx(ctx, base, quote, day)
		if r == nil {
			continue
		}
		if err := s.storeFx(ctx, r); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, nil
}

// fetchFx consults the FX router, then the generic provider.
func (s *Service) fetchFx(ctx context.Context, base, quote string, on models.Day) *models.FxRatePoint {
	if s.cfg.FxRouter != nil {
		if r := s.cfg.FxRouter.FetchClose(ctx, base, quote, on); r != nil {
			return s.normalizeFx(r, base, quote, on)
		}
	}
	if s.cfg.Provider != nil {
		r, err := s.cfg.Provider.FetchFxRate(ctx, base, quote, on)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("provider", s.cfg.Provider.Name()).
				Str("pair", base+"/"+quote).
				Msg("Generic provider failed fetching FX rate")
			return nil
		}
		if r != nil {
			return s.normalizeFx(r, base, quote, on)
		}
	}
	return nil
}

func (s *Service) normalizeFx(r *models.FxRatePoint, base, quote string, on models.Day) *models.FxRatePoint {
	if r.Base == "" {
		r.Base = base
	}
	if r.Quote == "" {
		r.Quote = quote
	}
	if r.AsOf.IsZero() {
		r.AsOf = on
	}
	if r.Kind == "" {
		r.Kind = models.KindClose
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	return r
}

// --- live quote retrieval ---

// PriceLatest retrieves the latest usable price for the asset at the query
// date. See PriceLatestWithStatus for the freshly-fetched flag.
func (s *Service) PriceLatest(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, error) {
	p, _, err := s.priceLatest(ctx, asset, on, false)
	return p, err
}

// PriceLatestWithStatus retrieves the latest price and reports whether it
// came from a live fetch. Waterfall: cached quote within the staleness
// window, else live fetch (persisted), else the close price from the store.
func (s *Service) PriceLatestWithStatus(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error) {
	return s.priceLatest(ctx, asset, on, false)
}

// PriceLatestForce skips the cached-quote freshness check and goes straight
// to a live fetch.
func (s *Service) PriceLatestForce(ctx context.Context, asset models.Asset, on models.Day) (*models.PricePoint, bool, error) {
	return s.priceLatest(ctx, asset, on, true)
}

func (s *Service) priceLatest(ctx context.Context, asset models.Asset, on models.Day, force bool) (*models.PricePoint, bool, error) {
	key := asset.Key()

	if !force {
		cached, err := s.store.GetPrice(ctx, key, on, models.KindQuote)
		if err != nil {
			return nil, false, err
		}
		if cached != nil && common.FreshWithin(s.now(), cached.Timestamp, s.cfg.QuoteStaleness) {
			return cached, false, nil
		}
	}

	// Currencies have no live quote concept; only equity/crypto routers are
	// consulted here.
	if router := s.routerFor(asset.Kind); router != nil {
		if live := router.FetchQuote(ctx, asset, key); live != nil {
			s.ensureRegistered(ctx, asset, key)
			live = s.normalizePrice(live, key, on, models.KindQuote)
			if err := s.StorePrice(ctx, live); err != nil {
				return nil, false, err
			}
			return live, true, nil
		}
	}

	fallback, err := s.PriceFromStore(ctx, asset, on)
	if err != nil {
		return nil, false, err
	}
	if fallback != nil {
		return fallback, false, nil
	}

	return nil, false, fmt.Errorf("no latest price for %s at %s: %w", key, on, ErrNotFound)
}

// --- idempotent persistence ---

// StorePrice persists a price observation unless the store already holds an
// observation for the same (asset key, date, kind) with an equal or newer
// timestamp. The check-then-write sequence is serialized per slot.
func (s *Service) StorePrice(ctx context.Context, point *models.PricePoint) error {
	slot := fmt.Sprintf("price|%s|%s|%s", point.AssetKey, point.AsOf, point.Kind)
	unlock := s.lockWrite(slot)
	defer unlock()

	existing, err := s.store.GetPrice(ctx, point.AssetKey, point.AsOf, point.Kind)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Timestamp.Before(point.Timestamp) {
		s.logger.Debug().
			Str("asset", string(point.AssetKey)).
			Str("date", point.AsOf.String()).
			Str("kind", string(point.Kind)).
			Msg("Skipping price write, store holds equal or newer observation")
		return nil
	}
	return s.store.PutPrices(ctx, []models.PricePoint{*point})
}

// storeFx persists an FX observation. By default this is a plain append;
// with FxIdempotentWrites the price staleness check applies here too.
func (s *Service) storeFx(ctx context.Context, rate *models.FxRatePoint) error {
	if !s.cfg.FxIdempotentWrites {
		return s.store.PutFxRates(ctx, []models.FxRatePoint{*rate})
	}

	slot := fmt.Sprintf("fx|%s|%s|%s|%s", rate.Base, rate.Quote, rate.AsOf, rate.Kind)
	unlock := s.lockWrite(slot)
	defer unlock()

	existing, err := s.store.GetFxRate(ctx, rate.Base, rate.Quote, rate.AsOf, rate.Kind)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Timestamp.Before(rate.Timestamp) {
		return nil
	}
	return s.store.PutFxRates(ctx, []models.FxRatePoint{*rate})
}

// ensureRegistered records a registry entry the first time an asset reaches
// the fetch path. Best effort: registry problems are logged, not fatal.
func (s *Service) ensureRegistered(ctx context.Context, asset models.Asset, key models.AssetKey) {
	existing, err := s.store.GetAssetEntry(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("asset", string(key)).Msg("Asset registry read failed")
		return
	}
	if existing != nil {
		return
	}
	entry := &models.AssetEntry{ID: key, Asset: asset.Normalized()}
	if err := s.store.UpsertAssetEntry(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("asset", string(key)).Msg("Asset registry write failed")
	}
}

// Ensure Service implements MarketDataService.
var _ interfaces.MarketDataService = (*Service)(nil)
