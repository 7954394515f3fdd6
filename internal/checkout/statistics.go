package checkout

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
)

// Statistics summarizes sessions by status and top-up amount
type Statistics struct {
	TotalSessions     int64                         `json:"total_sessions"`
	ByStatus          map[model.SessionStatus]int64 `json:"by_status"`
	TotalTopUpCents   int64                         `json:"total_top_up_cents"`
	AverageTopUpCents decimal.Decimal               `json:"average_top_up_cents"`
}

// Statistics reports counts per status plus total and average top-up
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	sessions, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Persistence("checkout.Statistics", err)
	}

	stats := &Statistics{
		ByStatus:          make(map[model.SessionStatus]int64, len(model.SessionStatuses)),
		AverageTopUpCents: decimal.Zero,
	}
	for _, st := range model.SessionStatuses {
		stats.ByStatus[st] = 0
	}
	for _, session := range sessions {
		stats.TotalSessions++
		stats.ByStatus[session.Status]++
		stats.TotalTopUpCents += session.TopUpAmountCents
	}
	if stats.TotalSessions > 0 {
		stats.AverageTopUpCents = decimal.NewFromInt(stats.TotalTopUpCents).
			DivRound(decimal.NewFromInt(stats.TotalSessions), 2)
	}
	return stats, nil
}
