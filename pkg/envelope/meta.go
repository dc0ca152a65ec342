package envelope

import "encoding/json"

// Meta is the free-form metadata attached to an envelope.
type Meta map[string]any

// Pagination mirrors meta.pagination on list endpoints.
type Pagination struct {
	Page         int  `json:"page"`
	PageSize     int  `json:"page_size"`
	TotalPages   int  `json:"total_pages"`
	TotalCount   int  `json:"total_count"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
	NextPage     *int `json:"next_page"`
	PreviousPage *int `json:"previous_page"`
}

// DefaultPagination is used for fields the server omitted.
func DefaultPagination() Pagination {
	return Pagination{
		Page:       1,
		PageSize:   20,
		TotalPages: 1,
	}
}

// Pagination extracts meta.pagination. The boolean reports whether the key
// was present; missing fields keep their DefaultPagination values.
func (m Meta) Pagination() (Pagination, bool) {
	p := DefaultPagination()
	raw, ok := m["pagination"]
	if !ok || raw == nil {
		return p, false
	}

	// Round-trip through JSON so numbers decoded as float64 land in ints.
	b, err := json.Marshal(raw)
	if err != nil {
		return p, false
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return DefaultPagination(), false
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.TotalPages <= 0 {
		p.TotalPages = 1
	}
	return p, true
}

// TotalCount is shorthand for the pagination total, 0 when absent.
func (m Meta) TotalCount() int {
	p, _ := m.Pagination()
	return p.TotalCount
}
