package datasource

import (
	"math"

	"nexus/internal/domain"
)

// Aggregate computes a KPI value over rows.
//
//   - count ignores the field and returns the row count.
//   - sum/avg coerce every value to a number; NaN counts as 0.
//   - min/max skip rows without the field and values that coerce to NaN;
//     nil when nothing is left. An explicit null still counts as 0.
//   - first returns the raw value of row 0.
func Aggregate(rows []Row, field string, kind domain.Aggregation) any {
	switch kind {
	case domain.AggCount, "":
		return float64(len(rows))
	case domain.AggFirst:
		if len(rows) == 0 {
			return nil
		}
		return rows[0][field]
	}

	if len(rows) == 0 {
		if kind == domain.AggSum {
			return 0.0
		}
		return nil
	}

	switch kind {
	case domain.AggSum, domain.AggAvg:
		sum := 0.0
		for _, r := range rows {
			n := ToNumber(r[field])
			if math.IsNaN(n) {
				n = 0
			}
			sum += n
		}
		if kind == domain.AggAvg {
			return sum / float64(len(rows))
		}
		return sum
	case domain.AggMin, domain.AggMax:
		var best float64
		found := false
		for _, r := range rows {
			v, ok := r[field]
			if !ok {
				continue
			}
			n := ToNumber(v)
			if math.IsNaN(n) {
				continue
			}
			if !found || (kind == domain.AggMin && n < best) || (kind == domain.AggMax && n > best) {
				best = n
				found = true
			}
		}
		if !found {
			return nil
		}
		return best
	}
	return nil
}
