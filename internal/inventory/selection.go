package inventory

import (
	"sort"

	"github.com/kkkkikiki/topup/internal/model"
)

// SelectCombination picks the codes whose denominations cover target with
// the least waste. It returns nil when no subset covers target.
//
// Order of preference:
//  1. a single code whose denomination equals target
//  2. the best contiguous run of the ascending-sorted candidates, where each
//     start index accumulates until the running sum reaches target; lowest
//     waste wins, ties go to the run with fewer codes
//  3. the smallest single code that covers target on its own
func SelectCombination(codes []model.GiftCode, target int64) []model.GiftCode {
	if target <= 0 {
		return nil
	}

	sorted := uniqueByID(codes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Denomination != sorted[j].Denomination {
			return sorted[i].Denomination < sorted[j].Denomination
		}
		return sorted[i].ID < sorted[j].ID
	})

	for _, c := range sorted {
		if c.Denomination == target {
			return []model.GiftCode{c}
		}
	}

	bestStart, bestEnd := -1, -1
	var bestWaste int64
	for i := range sorted {
		var sum int64
		end := -1
		for j := i; j < len(sorted); j++ {
			sum += sorted[j].Denomination
			if sum >= target {
				end = j
				break
			}
		}
		if end < 0 {
			// every later start has a smaller suffix sum
			break
		}
		waste := sum - target
		count := end - i + 1
		if bestStart < 0 || waste < bestWaste || (waste == bestWaste && count < bestEnd-bestStart+1) {
			bestStart, bestEnd, bestWaste = i, end, waste
		}
	}
	if bestStart >= 0 {
		out := make([]model.GiftCode, bestEnd-bestStart+1)
		copy(out, sorted[bestStart:bestEnd+1])
		return out
	}

	for _, c := range sorted {
		if c.Denomination >= target {
			return []model.GiftCode{c}
		}
	}
	return nil
}

// uniqueByID drops repeated code identities so a code is never selected twice
func uniqueByID(codes []model.GiftCode) []model.GiftCode {
	seen := make(map[int64]struct{}, len(codes))
	out := make([]model.GiftCode, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// sumDenominations returns the total face value of codes
func sumDenominations(codes []model.GiftCode) int64 {
	var total int64
	for _, c := range codes {
		total += c.Denomination
	}
	return total
}
