package leave

const (
	DefaultTake = 10
	MaxTake     = 100
)

type PageOptions struct {
	Take int
	Skip int
}

// Normalize applies defaults: take 10 when unset, at most 100, skip >= 0.
func (o PageOptions) Normalize() PageOptions {
	if o.Take <= 0 {
		o.Take = DefaultTake
	}
	if o.Take > MaxTake {
		o.Take = MaxTake
	}
	if o.Skip < 0 {
		o.Skip = 0
	}
	return o
}

type Pagination struct {
	Total       int  `json:"total"`
	Take        int  `json:"take"`
	Skip        int  `json:"skip"`
	HasMore     bool `json:"hasMore"`
	TotalPages  int  `json:"totalPages"`
	CurrentPage int  `json:"currentPage"`
}

func NewPagination(total int, opts PageOptions) Pagination {
	opts = opts.Normalize()
	return Pagination{
		Total:       total,
		Take:        opts.Take,
		Skip:        opts.Skip,
		HasMore:     opts.Skip+opts.Take < total,
		TotalPages:  (total + opts.Take - 1) / opts.Take,
		CurrentPage: opts.Skip/opts.Take + 1,
	}
}

type Page[T any] struct {
	Data       []T
	Pagination Pagination
}
