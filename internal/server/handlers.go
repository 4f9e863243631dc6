package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/marketdata"
)

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// --- Market data handlers ---

// assetFromQuery builds an Asset from kind/symbol/exchange/network query
// parameters. kind defaults to equity.
func assetFromQuery(r *http.Request) (models.Asset, error) {
	q := r.URL.Query()

	kind := models.AssetKind(q.Get("kind"))
	if kind == "" {
		kind = models.AssetEquity
	}

	asset := models.Asset{
		Kind:     kind,
		Symbol:   q.Get("symbol"),
		Exchange: q.Get("exchange"),
		Network:  q.Get("network"),
	}
	if err := asset.Validate(); err != nil {
		return models.Asset{}, err
	}
	return asset, nil
}

// dayFromQuery parses the date query parameter, defaulting to today (UTC).
func dayFromQuery(r *http.Request) (models.Day, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return models.DayOf(time.Now().UTC()), nil
	}
	return models.ParseDay(raw)
}

func forceFromQuery(r *http.Request) bool {
	force := r.URL.Query().Get("force")
	return force == "true" || force == "1"
}

// writeLookupError maps service errors onto HTTP status codes.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, marketdata.ErrNotFound) {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handlePriceClose(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	asset, err := assetFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	on, err := dayFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %v", err))
		return
	}

	if forceFromQuery(r) {
		point, fetched, err := s.app.MarketService.PriceCloseForce(r.Context(), asset, on)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"price":   point,
			"fetched": fetched,
		})
		return
	}

	point, err := s.app.MarketService.PriceClose(r.Context(), asset, on)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"price": point})
}

func (s *Server) handlePriceLatest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	asset, err := assetFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	on, err := dayFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %v", err))
		return
	}

	var (
		point   *models.PricePoint
		fetched bool
	)
	if forceFromQuery(r) {
		point, fetched, err = s.app.MarketService.PriceLatestForce(r.Context(), asset, on)
	} else {
		point, fetched, err = s.app.MarketService.PriceLatestWithStatus(r.Context(), asset, on)
	}
	if err != nil {
		writeLookupError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"price":   point,
		"fetched": fetched,
	})
}

func (s *Server) handleFxClose(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	base := q.Get("base")
	quote := q.Get("quote")
	if base == "" || quote == "" {
		WriteError(w, http.StatusBadRequest, "base and quote are required")
		return
	}
	on, err := dayFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %v", err))
		return
	}

	if forceFromQuery(r) {
		rate, fetched, err := s.app.MarketService.FxCloseForce(r.Context(), base, quote, on)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"rate":    rate,
			"fetched": fetched,
		})
		return
	}

	rate, err := s.app.MarketService.FxClose(r.Context(), base, quote, on)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"rate": rate})
}

// --- Valuation handler ---

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Asset    models.Asset `json:"asset"`
		Amount   string       `json:"amount"`
		Currency string       `json:"currency"`
		Date     string       `json:"date"`
		Places   *int32       `json:"places"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid amount: %v", err))
		return
	}

	on := models.DayOf(time.Now().UTC())
	if req.Date != "" {
		on, err = models.ParseDay(req.Date)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid date: %v", err))
			return
		}
	}

	valuation, err := s.app.ValuationService.ValueInReportingCurrency(r.Context(), req.Asset, amount, req.Currency, on, req.Places)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, valuation)
}

// --- Asset registry handler ---

func (s *Server) handleAssetUpsert(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Asset       models.Asset      `json:"asset"`
		ProviderIDs map[string]string `json:"provider_ids"`
		TZ          string            `json:"tz"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Asset.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := &models.AssetEntry{
		ID:          req.Asset.Key(),
		Asset:       req.Asset.Normalized(),
		ProviderIDs: req.ProviderIDs,
		TZ:          req.TZ,
	}
	if err := s.app.Store.UpsertAssetEntry(r.Context(), entry); err != nil {
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Error storing asset entry: %v", err))
		return
	}

	WriteJSON(w, http.StatusOK, entry)
}
