// Package ranking computes Borda-count aggregation across three percentage
// categories with competition ranking for ties. Grounded on the
// sort.Slice-by-value pattern in the teacher's
// internal/service/bidding/auction.go (highest-bid-wins ordering),
// generalized here to three independently-ranked categories.
package ranking

import (
	"math"
	"sort"
)

// Row is one district's ranking input, percentages only — never absolute
// counts, per the ranking engine's one hard invariant.
type Row struct {
	DistrictID            string
	ClubGrowthPercent      float64
	PaymentGrowthPercent   float64
	DistinguishedPercent   float64
}

// Result is one district's computed ranking output.
type Result struct {
	DistrictID            string
	ClubGrowthPercent      float64
	PaymentGrowthPercent   float64
	DistinguishedPercent   float64
	ClubGrowthRank         int
	PaymentGrowthRank      int
	DistinguishedRank      int
	ClubGrowthBorda        int
	PaymentGrowthBorda     int
	DistinguishedBorda     int
	AggregateScore         int
}

// Compute ranks rows independently by each of the three categories using
// competition ranking (ties share a rank; the next rank skips by the tie
// group's size), converts each rank to Borda points (N-rank+1), sums them
// into AggregateScore, and returns results ordered by AggregateScore
// descending with ties left stable in input order.
func Compute(rows []Row) []Result {
	n := len(rows)
	results := make([]Result, n)
	for i, r := range rows {
		results[i] = Result{
			DistrictID:           r.DistrictID,
			ClubGrowthPercent:    r.ClubGrowthPercent,
			PaymentGrowthPercent: r.PaymentGrowthPercent,
			DistinguishedPercent: r.DistinguishedPercent,
		}
	}

	clubRanks := competitionRank(n, func(i int) float64 { return sanitize(rows[i].ClubGrowthPercent) })
	paymentRanks := competitionRank(n, func(i int) float64 { return sanitize(rows[i].PaymentGrowthPercent) })
	distinguishedRanks := competitionRank(n, func(i int) float64 { return sanitize(rows[i].DistinguishedPercent) })

	for i := range results {
		results[i].ClubGrowthRank = clubRanks[i]
		results[i].PaymentGrowthRank = paymentRanks[i]
		results[i].DistinguishedRank = distinguishedRanks[i]
		results[i].ClubGrowthBorda = bordaPoints(n, clubRanks[i])
		results[i].PaymentGrowthBorda = bordaPoints(n, paymentRanks[i])
		results[i].DistinguishedBorda = bordaPoints(n, distinguishedRanks[i])
		results[i].AggregateScore = results[i].ClubGrowthBorda + results[i].PaymentGrowthBorda + results[i].DistinguishedBorda
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AggregateScore > results[j].AggregateScore
	})

	return results
}

// sanitize maps NaN to negative infinity so it always ranks last, per
// spec: any input value that is NaN or absent is treated as -Infinity.
func sanitize(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// bordaPoints converts a 1-based competition rank to Borda points: N-rank+1.
func bordaPoints(n, rank int) int {
	return n - rank + 1
}

// competitionRank returns, for each original index, its 1-based
// competition rank under value(i) sorted descending: equal values (strict
// IEEE-754 equality) share a rank, and the next distinct value's rank
// equals its 1-based position in the sorted order.
func competitionRank(n int, value func(i int) float64) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return value(order[a]) > value(order[b])
	})

	ranks := make([]int, n)
	for pos, idx := range order {
		if pos == 0 || value(order[pos]) != value(order[pos-1]) {
			ranks[idx] = pos + 1
		} else {
			ranks[idx] = ranks[order[pos-1]]
		}
	}
	return ranks
}
