// Package obsfs implements the file-based observation store: price and FX
// observations as one JSON record per line, partitioned by asset (or
// currency pair) and calendar year. The layout is plain text on purpose so
// the data directory stays human-readable and git-friendly.
package obsfs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	pricesDir    = "prices"
	fxDir        = "fx"
	registryFile = "registry.jsonl"
)

// Store provides append-only JSONL storage for market observations.
type Store struct {
	basePath string
	logger   *common.Logger

	mu sync.Mutex // serializes file appends
}

// NewStore opens (creating if needed) an observation store rooted at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create observation store path %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("Observation store opened")
	return &Store{
		basePath: path,
		logger:   logger,
	}, nil
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// --- helpers ---

func (s *Store) priceDir(key models.AssetKey) string {
	return filepath.Join(s.basePath, pricesDir, models.SanitizeSegment(string(key)))
}

func (s *Store) fxPairDir(base, quote string) string {
	pair := models.SanitizeSegment(models.NormalizeCurrency(base)) + "-" + models.SanitizeSegment(models.NormalizeCurrency(quote))
	return filepath.Join(s.basePath, fxDir, pair)
}

func yearFile(dir string, year int) string {
	return filepath.Join(dir, fmt.Sprintf("%04d.jsonl", year))
}

// scanLines reads every non-empty line of a JSONL file and hands it to fn.
// A missing file is not an error. A line fn cannot parse is fatal: it means
// the store is corrupt, not merely empty.
func scanLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot open %q for reading: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	i := 0
	for scanner.Scan() {
		i++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("parse error %s:%d: %w", path, i, err)
		}
	}
	return scanner.Err()
}

// yearFiles lists the per-year files of a partition directory. A missing
// directory yields an empty list.
func yearFiles(dir string) ([]string, error) {
	names, err := filepath.Glob(filepath.Join(dir, "[0-9][0-9][0-9][0-9].jsonl"))
	if err != nil {
		return nil, fmt.Errorf("cannot scan %q for observation files: %w", dir, err)
	}
	return names, nil
}

// appendLines appends marshaled records to a file, creating directories as
// needed. Appends only: existing content is never rewritten.
func (s *Store) appendLines(path string, records []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("cannot open %q for appending: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("cannot marshal observation: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write error on %q: %w", path, err)
		}
	}
	return w.Flush()
}

// --- prices ---

// GetPrice returns the observation with the exact date and kind, resolving
// duplicates by latest timestamp. Returns nil when the partition or the
// observation is absent.
func (s *Store) GetPrice(_ context.Context, key models.AssetKey, on models.Day, kind models.ObservationKind) (*models.PricePoint, error) {
	path := yearFile(s.priceDir(key), on.Year())

	var best *models.PricePoint
	err := scanLines(path, func(line []byte) error {
		var p models.PricePoint
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		if !p.AsOf.Equal(on) || p.Kind != kind {
			return nil
		}
		if best == nil || p.Timestamp.After(best.Timestamp) {
			cp := p
			best = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// GetAllPrices returns the full persisted history for an asset, unordered.
func (s *Store) GetAllPrices(_ context.Context, key models.AssetKey) ([]models.PricePoint, error) {
	files, err := yearFiles(s.priceDir(key))
	if err != nil {
		return nil, err
	}

	var points []models.PricePoint
	for _, path := range files {
		err := scanLines(path, func(line []byte) error {
			var p models.PricePoint
			if err := json.Unmarshal(line, &p); err != nil {
				return err
			}
			points = append(points, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return points, nil
}

// PutPrices appends price observations, grouped into per-year files under
// the asset's partition.
func (s *Store) PutPrices(_ context.Context, points []models.PricePoint) error {
	type bucket struct {
		key  models.AssetKey
		year int
	}
	grouped := make(map[bucket][]any)
	for _, p := range points {
		b := bucket{p.AssetKey, p.AsOf.Year()}
		grouped[b] = append(grouped[b], p)
	}

	for b, records := range grouped {
		path := yearFile(s.priceDir(b.key), b.year)
		if err := s.appendLines(path, records); err != nil {
			return err
		}
		s.logger.Debug().
			Str("asset", string(b.key)).
			Int("year", b.year).
			Int("count", len(records)).
			Msg("Price observations appended")
	}
	return nil
}

// --- fx rates ---

// GetFxRate returns the FX observation for the pair with the exact date and
// kind, latest timestamp winning.
func (s *Store) GetFxRate(_ context.Context, base, quote string, on models.Day, kind models.ObservationKind) (*models.FxRatePoint, error) {
	path := yearFile(s.fxPairDir(base, quote), on.Year())

	var best *models.FxRatePoint
	err := scanLines(path, func(line []byte) error {
		var r models.FxRatePoint
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		if !r.AsOf.Equal(on) || r.Kind != kind {
			return nil
		}
		if best == nil || r.Timestamp.After(best.Timestamp) {
			cp := r
			best = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

// GetAllFxRates returns the full persisted history for a pair, unordered.
func (s *Store) GetAllFxRates(_ context.Context, base, quote string) ([]models.FxRatePoint, error) {
	files, err := yearFiles(s.fxPairDir(base, quote))
	if err != nil {
		return nil, err
	}

	var rates []models.FxRatePoint
	for _, path := range files {
		err := scanLines(path, func(line []byte) error {
			var r models.FxRatePoint
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			rates = append(rates, r)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return rates, nil
}

// PutFxRates appends FX observations, grouped into per-year files under the
// pair's partition. Pair codes are upper-cased before use as partition keys.
func (s *Store) PutFxRates(_ context.Context, rates []models.FxRatePoint) error {
	type bucket struct {
		base, quote string
		year        int
	}
	grouped := make(map[bucket][]any)
	for _, r := range rates {
		b := bucket{models.NormalizeCurrency(r.Base), models.NormalizeCurrency(r.Quote), r.AsOf.Year()}
		grouped[b] = append(grouped[b], r)
	}

	for b, records := range grouped {
		path := yearFile(s.fxPairDir(b.base, b.quote), b.year)
		if err := s.appendLines(path, records); err != nil {
			return err
		}
		s.logger.Debug().
			Str("pair", b.base+"/"+b.quote).
			Int("year", b.year).
			Int("count", len(records)).
			Msg("FX observations appended")
	}
	return nil
}

// --- asset registry ---

// GetAssetEntry returns the latest registry entry for the key, or nil when
// the asset has never been registered.
func (s *Store) GetAssetEntry(_ context.Context, key models.AssetKey) (*models.AssetEntry, error) {
	path := filepath.Join(s.basePath, registryFile)

	var latest *models.AssetEntry
	err := scanLines(path, func(line []byte) error {
		var e models.AssetEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		if e.ID == key {
			cp := e
			latest = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// UpsertAssetEntry appends a registry entry. The registry is append-only;
// reads resolve to the last entry for an ID.
func (s *Store) UpsertAssetEntry(_ context.Context, entry *models.AssetEntry) error {
	path := filepath.Join(s.basePath, registryFile)
	if err := s.appendLines(path, []any{entry}); err != nil {
		return err
	}
	s.logger.Debug().Str("asset", string(entry.ID)).Msg("Asset registry entry written")
	return nil
}

// Ensure Store implements ObservationStore.
var _ interfaces.ObservationStore = (*Store)(nil)
