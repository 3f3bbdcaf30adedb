package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

const maxSearchTopK = 50

// SearchHandler 提供会话范围内的直接检索，便于查看某个问题会命中哪些分块。
type SearchHandler struct {
	threads  service.ThreadService
	search   service.SearchService
	settings service.SettingsService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(threads service.ThreadService, search service.SearchService, settings service.SettingsService) *SearchHandler {
	return &SearchHandler{threads: threads, search: search, settings: settings}
}

// Search 在会话文档中执行混合检索，query 会先经过与对话相同的清洗。
func (h *SearchHandler) Search(c *gin.Context) {
	raw := c.Query("query")
	query := service.SanitizeQuery(raw)
	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		fail(c, http.StatusBadRequest, "无效的查询参数")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}
	if topK > maxSearchTopK {
		topK = maxSearchTopK
	}

	uid, threadID := userID(c), c.Param("threadId")
	if _, err := h.threads.GetThread(c.Request.Context(), uid, threadID); err != nil {
		writeError(c, "search thread", err)
		return
	}
	results, err := h.search.SearchThread(c.Request.Context(), uid, threadID, query, topK, h.settings.Get().UseSemanticRanker)
	if err != nil {
		writeError(c, "search thread", &service.ServiceError{Kind: service.KindSearchService, Op: "search", Err: err})
		return
	}
	log.Infof("[SearchHandler] 检索成功, thread: %s, query: '%s', 返回 %d 条结果", threadID, query, len(results))
	ok(c, "success", results)
}
