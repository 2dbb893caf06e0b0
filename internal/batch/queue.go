package batch

import (
	"sort"

	"github.com/sells-group/affinity-cli/internal/model"
)

// dispatchOrder returns row indexes with priority rows first, input order
// preserved within each tier.
func dispatchOrder(rows []model.BatchRow) []int {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].Priority && !rows[order[b]].Priority
	})
	return order
}
