package backend

// Paginate returns the [start, end) window of a listing of total entries.
// An empty listing always yields an empty window.
func Paginate(total, pageSize, page int) (int, int, error) {
	if total == 0 {
		return 0, 0, nil
	}
	if pageSize <= 0 {
		return 0, total, nil
	}

	start := page * pageSize
	if page < 0 || start >= total {
		return 0, 0, &OutOfBoundsError{Page: page}
	}

	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end, nil
}
