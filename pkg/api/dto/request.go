package dto

// RunFlowRequest 运行Flow请求
type RunFlowRequest struct {
	Params map[string]any `json:"params" binding:"omitempty"`
}

// ListQueryRequest 通用列表查询请求
type ListQueryRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// GetDefaultLimit 获取默认limit
func (r *ListQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}

// Page 对列表分页，返回当前页和是否还有更多
func Page[T any](items []T, q ListQueryRequest) ([]T, bool) {
	limit := q.GetDefaultLimit()
	if q.Offset >= len(items) {
		return []T{}, false
	}
	end := q.Offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[q.Offset:end], end < len(items)
}
