package usage

import (
	"strconv"
	"time"

	"aigateway/api/handlers/common"
	"aigateway/internal/tenant"
	usagepkg "aigateway/internal/usage"

	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Handler 当前工作区的用量查询
type Handler struct {
	store *usagepkg.GormSink
}

// NewHandler 创建 Handler
func NewHandler(store *usagepkg.GormSink) *Handler {
	return &Handler{store: store}
}

// ListResult 用量明细与汇总
type ListResult struct {
	common.ListResponse
	Summary usagepkg.Summary `json:"summary"`
}

// List 查询用量记录
// 只返回已落库的记录，缓冲区内尚未刷新的不包含在内
// @Summary 用量明细
// @Tags Usage
// @Param provider query string false "提供商"
// @Param since query string false "开始时间(RFC3339)"
// @Param until query string false "结束时间(RFC3339)"
// @Param limit query int false "条数"
// @Router /api/v1/usage [get]
func (h *Handler) List(c *gin.Context) {
	tc, _ := tenant.FromContext(c.Request.Context())

	q := usagepkg.Query{
		WorkspaceID: tc.WorkspaceID,
		Provider:    c.Query("provider"),
		Limit:       defaultLimit,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			common.BadRequest(c, "limit 必须为正整数")
			return
		}
		q.Limit = min(n, maxLimit)
	}
	for key, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		if v := c.Query(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				common.BadRequest(c, key+" 必须为 RFC3339 时间")
				return
			}
			*dst = t
		}
	}

	records, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.OK(c, ListResult{
		ListResponse: common.ListResponse{
			Items:      records,
			Pagination: common.PaginationMeta{Limit: q.Limit, Returned: len(records)},
		},
		Summary: usagepkg.Summarize(records),
	})
}
