package importer

// Page size bounds.
const (
	MaxPreviewPageSize = 1000
	MaxChunkPageSize   = 500
)

// Window is one page of a transaction list.
type Window struct {
	Start, End int
	TotalPages int
	HasNext    bool
}

// Paginate computes the [Start, End) slice for page. An empty list has zero
// pages and page 0 is an empty window; any other page past the end is invalid.
func Paginate(total, page, size, maxSize int) (Window, error) {
	if size < 1 || size > maxSize {
		return Window{}, validationError("size must be between 1 and %d", maxSize)
	}
	if page < 0 {
		return Window{}, validationError("page must not be negative")
	}
	totalPages := (total + size - 1) / size
	if totalPages == 0 {
		if page > 0 {
			return Window{}, validationError("page %d is out of range (file has no transactions)", page)
		}
		return Window{}, nil
	}
	if page >= totalPages {
		return Window{}, validationError("page %d is out of range (total pages: %d)", page, totalPages)
	}
	start := page * size
	end := start + size
	if end > total {
		end = total
	}
	return Window{
		Start:      start,
		End:        end,
		TotalPages: totalPages,
		HasNext:    page < totalPages-1,
	}, nil
}
