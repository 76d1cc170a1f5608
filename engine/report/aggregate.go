package report

import "github.com/complimo/complimo/engine/domain"

// Aggregate averages consecutive rows into at most buckets rows. Numeric
// fields are averaged over the rows holding a number; other fields keep the
// bucket's first value. Tables already within the limit are returned as is.
func Aggregate(t domain.Table, buckets int) domain.Table {
	n := len(t.Rows)
	if buckets <= 0 || n <= buckets {
		return t
	}
	size := (n + buckets - 1) / buckets

	out := make([]domain.Row, 0, buckets)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, mergeRows(t.Rows[start:end]))
	}
	return domain.Table{Rows: out}
}

func mergeRows(rows []domain.Row) domain.Row {
	sums := map[string]float64{}
	counts := map[string]int{}
	merged := domain.Row{}
	for _, r := range rows {
		for k, v := range r {
			if f, ok := domain.AsNumber(v); ok {
				sums[k] += f
				counts[k]++
				continue
			}
			if _, set := merged[k]; !set {
				merged[k] = v
			}
		}
	}
	for k, s := range sums {
		merged[k] = s / float64(counts[k])
	}
	return merged
}
