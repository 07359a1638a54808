package search

import (
	"errors"
	"fmt"
)

var ErrInvalidPage = errors.New("invalid page")

const pageWindowSize = 5

// ValidatePageJump rejects pages outside [1, lastPage]. A lastPage below 1
// means the page count is not known yet and only the lower bound applies.
func ValidatePageJump(page, lastPage int) error {
	if page < 1 {
		return fmt.Errorf("%w: %d is below 1", ErrInvalidPage, page)
	}
	if lastPage >= 1 && page > lastPage {
		return fmt.Errorf("%w: %d is beyond last page %d", ErrInvalidPage, page, lastPage)
	}
	return nil
}

// PageWindow returns up to five page numbers centred on current.
func PageWindow(current, total int) []int {
	if total <= 0 {
		return nil
	}
	if total <= pageWindowSize {
		pages := make([]int, 0, total)
		for i := 1; i <= total; i++ {
			pages = append(pages, i)
		}
		return pages
	}

	start := max(1, current-2)
	end := min(total, start+pageWindowSize-1)
	if end == total {
		start = max(1, end-pageWindowSize+1)
	}
	pages := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		pages = append(pages, i)
	}
	return pages
}

func CanGoPrevious(current int) bool {
	return current > 1
}

func CanGoNext(current, total int, hasNextPage bool) bool {
	return hasNextPage && current < total
}
