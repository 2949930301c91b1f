package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/classboard/sentinel/internal/models"
	"github.com/classboard/sentinel/internal/services"
	pkghttp "github.com/classboard/sentinel/pkg/http"
)

// StatsServiceInterface defines the aggregator contract.
type StatsServiceInterface interface {
	Statistics(ctx context.Context, rangeValue string) (*services.StatisticsResponse, error)
}

// StatsHandler serves the lockout-statistics dashboard endpoint.
type StatsHandler struct {
	service StatsServiceInterface
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(service StatsServiceInterface) *StatsHandler {
	return &StatsHandler{service: service}
}

// GetStatistics handles GET /lockout-statistics?range=24h|7d|30d|90d
func (h *StatsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "range must be one of 24h, 7d, 30d, 90d")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to compute lockout statistics")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
