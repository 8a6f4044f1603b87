package util

// PageWindow returns the page numbers shown around page: at most eight,
// pinned to the first eight near the start and the last eight near the end.
func PageWindow(page, totalPages int) []int {
	if totalPages < 1 {
		return []int{}
	}

	var start, end int
	switch {
	case page <= 5:
		start, end = 1, min(8, totalPages)
	case page >= totalPages-4:
		start, end = max(1, totalPages-7), totalPages
	default:
		start, end = page-4, page+3
	}

	window := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		window = append(window, p)
	}
	return window
}
