package inventory

import (
	"context"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
)

// StatusStats is the count and face value of codes in one status
type StatusStats struct {
	Count int64 `json:"count"`
	Value int64 `json:"value"`
}

// Stats summarizes the inventory
type Stats struct {
	TotalCodes     int64                            `json:"total_codes"`
	TotalValue     int64                            `json:"total_value"`
	AvailableValue int64                            `json:"available_value"`
	ByStatus       map[model.CodeStatus]StatusStats `json:"by_status"`
	Denominations  map[int64]int64                  `json:"available_denominations"` // denomination -> AVAILABLE count
}

// Stats reports counts and value per status plus a histogram of the
// denominations still AVAILABLE
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	codes, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Persistence("inventory.Stats", err)
	}

	stats := &Stats{
		ByStatus:      make(map[model.CodeStatus]StatusStats, len(model.CodeStatuses)),
		Denominations: make(map[int64]int64),
	}
	for _, st := range model.CodeStatuses {
		stats.ByStatus[st] = StatusStats{}
	}

	for _, c := range codes {
		stats.TotalCodes++
		stats.TotalValue += c.Denomination

		bucket := stats.ByStatus[c.Status]
		bucket.Count++
		bucket.Value += c.Denomination
		stats.ByStatus[c.Status] = bucket

		if c.Status == model.CodeAvailable {
			stats.AvailableValue += c.Denomination
			stats.Denominations[c.Denomination]++
		}
	}
	return stats, nil
}
