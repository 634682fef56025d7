package types

import "github.com/samber/lo"

const (
	FILTER_DEFAULT_LIMIT = 50
	FILTER_MAX_LIMIT     = 1000
)

// QueryFilter carries pagination for list queries.
type QueryFilter struct {
	Limit  *int `json:"limit,omitempty" form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset *int `json:"offset,omitempty" form:"offset" validate:"omitempty,min=0"`
}

func NewDefaultQueryFilter() *QueryFilter {
	return &QueryFilter{
		Limit:  lo.ToPtr(FILTER_DEFAULT_LIMIT),
		Offset: lo.ToPtr(0),
	}
}

func NewNoLimitQueryFilter() *QueryFilter {
	return &QueryFilter{}
}

func (f *QueryFilter) GetLimit() int {
	if f == nil || f.Limit == nil {
		return 0
	}
	return lo.Min([]int{*f.Limit, FILTER_MAX_LIMIT})
}

func (f *QueryFilter) GetOffset() int {
	if f == nil || f.Offset == nil {
		return 0
	}
	return *f.Offset
}
