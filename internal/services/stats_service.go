package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/classboard/sentinel/internal/models"
)

// Statistics ranges accepted by the API
const (
	RangeDay     = "24h"
	RangeWeek    = "7d"
	RangeMonth   = "30d"
	RangeQuarter = "90d"
)

const mostAffectedLimit = 10

// StatsAuditRepository is the read-only audit access the aggregator needs
type StatsAuditRepository interface {
	CountByEventTypeSince(ctx context.Context, eventType string, since time.Time) (int64, error)
	CountUnlocksSince(ctx context.Context, since time.Time) (int64, error)
	AverageLockMinutesSince(ctx context.Context, since time.Time) (float64, error)
	ReasonCountsSince(ctx context.Context, since time.Time) ([]models.ReasonCount, error)
	TierCountsSince(ctx context.Context, since time.Time) ([]models.TierCount, error)
	TrendSince(ctx context.Context, since time.Time) ([]models.TrendPoint, error)
	MostAffectedSince(ctx context.Context, since time.Time, limit int) ([]models.AccountLockoutCount, error)
}

// StatsLedgerRepository is the read-only ledger access the aggregator needs
type StatsLedgerRepository interface {
	CountLocked(ctx context.Context, now time.Time) (int64, error)
}

// OverviewStats holds the headline lockout numbers for the dashboards.
type OverviewStats struct {
	CurrentlyLocked    int64   `json:"currently_locked"`
	LockoutsToday      int64   `json:"lockouts_today"`
	LockoutsThisWeek   int64   `json:"lockouts_this_week"`
	LockoutsThisMonth  int64   `json:"lockouts_this_month"`
	AverageLockMinutes float64 `json:"average_lock_minutes"`
	MostCommonReason   string  `json:"most_common_reason"`
	UnlockRate         float64 `json:"unlock_rate"`
}

// StatisticsResponse is the full aggregator output for one requested range.
type StatisticsResponse struct {
	Range         string                       `json:"range"`
	Overview      OverviewStats                `json:"overview"`
	Trend         []models.TrendPoint          `json:"trend"`
	ByReason      []models.ReasonCount         `json:"by_reason"`
	BySeverity    []SeverityCount              `json:"by_severity"`
	MostAffected  []models.AccountLockoutCount `json:"most_affected"`
	GeneratedAt   time.Time                    `json:"generated_at"`
	PolicyVersion int                          `json:"policy_version"`
}

// SeverityCount is a tier-distribution bucket labeled with its severity.
type SeverityCount struct {
	Tier     int    `json:"tier"`
	Severity string `json:"severity"`
	Count    int64  `json:"count"`
}

// StatsService derives read-only rollups from the ledger and the audit
// trail. It never mutates state and shares no locks with the engine's write
// path; results are eventually consistent with the latest committed entries.
type StatsService struct {
	audit    StatsAuditRepository
	ledger   StatsLedgerRepository
	policies PolicyProvider
	logger   *slog.Logger

	cacheTTL time.Duration
	mu       sync.Mutex
	cached   map[string]*cachedStats

	now func() time.Time
}

type cachedStats struct {
	response *StatisticsResponse
	expires  time.Time
}

// NewStatsService creates a new StatsService. A zero cacheTTL disables
// caching.
func NewStatsService(
	audit StatsAuditRepository,
	ledger StatsLedgerRepository,
	policies PolicyProvider,
	logger *slog.Logger,
	cacheTTL time.Duration,
) *StatsService {
	return &StatsService{
		audit:    audit,
		ledger:   ledger,
		policies: policies,
		logger:   logger,
		cacheTTL: cacheTTL,
		cached:   make(map[string]*cachedStats),
		now:      time.Now,
	}
}

// ParseRange maps an API range parameter to a lookback duration. An empty
// value defaults to one week.
func ParseRange(value string) (time.Duration, error) {
	switch value {
	case "", RangeWeek:
		return 7 * 24 * time.Hour, nil
	case RangeDay:
		return 24 * time.Hour, nil
	case RangeMonth:
		return 30 * 24 * time.Hour, nil
	case RangeQuarter:
		return 90 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown range %q", models.ErrBadRequest, value)
	}
}

// Statistics returns the aggregator output for one range, cached for a short
// TTL so dashboard polling never leans on the write path.
func (s *StatsService) Statistics(ctx context.Context, rangeValue string) (*StatisticsResponse, error) {
	lookback, err := ParseRange(rangeValue)
	if err != nil {
		return nil, err
	}
	if rangeValue == "" {
		rangeValue = RangeWeek
	}

	if cached := s.fromCache(rangeValue); cached != nil {
		return cached, nil
	}

	resp, err := s.build(ctx, rangeValue, lookback)
	if err != nil {
		return nil, err
	}

	s.store(rangeValue, resp)
	return resp, nil
}

func (s *StatsService) fromCache(key string) *StatisticsResponse {
	if s.cacheTTL <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cached[key]
	if !ok || s.now().After(entry.expires) {
		return nil
	}
	return entry.response
}

func (s *StatsService) store(key string, resp *StatisticsResponse) {
	if s.cacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[key] = &cachedStats{response: resp, expires: s.now().Add(s.cacheTTL)}
}

func (s *StatsService) build(ctx context.Context, rangeValue string, lookback time.Duration) (*StatisticsResponse, error) {
	now := s.now()
	since := now.Add(-lookback)
	policy := s.policies.GetPolicy()

	overview, err := s.overview(ctx, now, since)
	if err != nil {
		return nil, err
	}

	trend, err := s.audit.TrendSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats trend: %w", err)
	}

	reasons, err := s.audit.ReasonCountsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats reasons: %w", err)
	}
	if len(reasons) > 0 {
		overview.MostCommonReason = string(reasons[0].Reason)
	}

	tiers, err := s.audit.TierCountsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats tiers: %w", err)
	}
	severities := make([]SeverityCount, 0, len(tiers))
	for _, tc := range tiers {
		severities = append(severities, SeverityCount{
			Tier:     tc.Tier,
			Severity: models.SeverityOfTier(tc.Tier),
			Count:    tc.Count,
		})
	}

	affected, err := s.audit.MostAffectedSince(ctx, since, mostAffectedLimit)
	if err != nil {
		return nil, fmt.Errorf("stats most affected: %w", err)
	}
	sortMostAffected(affected)

	return &StatisticsResponse{
		Range:         rangeValue,
		Overview:      *overview,
		Trend:         trend,
		ByReason:      reasons,
		BySeverity:    severities,
		MostAffected:  affected,
		GeneratedAt:   now.UTC(),
		PolicyVersion: policy.Version,
	}, nil
}

func (s *StatsService) overview(ctx context.Context, now, since time.Time) (*OverviewStats, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	locked, err := s.ledger.CountLocked(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("stats locked count: %w", err)
	}

	today, err := s.audit.CountByEventTypeSince(ctx, models.AuditEventTypeLockout, dayStart)
	if err != nil {
		return nil, fmt.Errorf("stats lockouts today: %w", err)
	}

	week, err := s.audit.CountByEventTypeSince(ctx, models.AuditEventTypeLockout, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("stats lockouts week: %w", err)
	}

	month, err := s.audit.CountByEventTypeSince(ctx, models.AuditEventTypeLockout, now.Add(-30*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("stats lockouts month: %w", err)
	}

	avgMinutes, err := s.audit.AverageLockMinutesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats average duration: %w", err)
	}

	rangeLockouts, err := s.audit.CountByEventTypeSince(ctx, models.AuditEventTypeLockout, since)
	if err != nil {
		return nil, fmt.Errorf("stats range lockouts: %w", err)
	}

	unlocks, err := s.audit.CountUnlocksSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("stats unlocks: %w", err)
	}

	unlockRate := 0.0
	if rangeLockouts > 0 {
		unlockRate = float64(unlocks) / float64(rangeLockouts)
		if unlockRate > 1 {
			unlockRate = 1
		}
	}

	return &OverviewStats{
		CurrentlyLocked:    locked,
		LockoutsToday:      today,
		LockoutsThisWeek:   week,
		LockoutsThisMonth:  month,
		AverageLockMinutes: avgMinutes,
		UnlockRate:         unlockRate,
	}, nil
}

// sortMostAffected enforces a deterministic ranking regardless of how the
// storage returned the rows: lockout count descending, last-lockout
// timestamp descending on ties, account ID ascending as the final tiebreak.
func sortMostAffected(ranked []models.AccountLockoutCount) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Lockouts != ranked[j].Lockouts {
			return ranked[i].Lockouts > ranked[j].Lockouts
		}
		if !ranked[i].LastLockout.Equal(ranked[j].LastLockout) {
			return ranked[i].LastLockout.After(ranked[j].LastLockout)
		}
		return ranked[i].AccountID < ranked[j].AccountID
	})
}
