package dedup

import (
	"fmt"
	"sort"
)

// Page is one batch of a marker-paginated listing. NextMarker is empty when
// the listing is exhausted; otherwise it is the key of the last item returned
// and should be passed as the marker for the following batch.
type Page[T any] struct {
	Items      []T
	NextMarker string
}

// Paginate fetches limit+1 items after marker and trims the extra item, which
// only signals that another batch exists.
func Paginate[T any](limit int, marker string, fetch func(marker string, n int) ([]T, error), key func(T) string) (*Page[T], error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrBadRequest, limit)
	}
	items, err := fetch(marker, limit+1)
	if err != nil {
		return nil, err
	}
	page := &Page[T]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextMarker = key(page.Items[limit-1])
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page, nil
}

// After returns up to n entries of keys strictly greater than marker, in
// ascending order. keys need not be sorted. A limit below one returns all.
func After(keys []string, marker string, n int) []string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	i := sort.SearchStrings(sorted, marker)
	for i < len(sorted) && sorted[i] <= marker {
		i++
	}
	out := sorted[i:]
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func identity(s string) string { return s }
