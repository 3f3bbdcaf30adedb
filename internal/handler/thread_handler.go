package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/service"
)

// ThreadHandler 处理会话与消息相关的 API 请求。
type ThreadHandler struct {
	threads service.ThreadService
}

// NewThreadHandler 创建一个新的 ThreadHandler。
func NewThreadHandler(threads service.ThreadService) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

type createThreadRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type renameThreadRequest struct {
	Name string `json:"name" binding:"required"`
}

type postMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// List 返回当前用户的会话列表。
func (h *ThreadHandler) List(c *gin.Context) {
	threads, err := h.threads.ListThreads(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, "list threads", err)
		return
	}
	ok(c, "success", threads)
}

// Create 创建会话，请求体可以为空。
func (h *ThreadHandler) Create(c *gin.Context) {
	var req createThreadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "请求参数无效")
			return
		}
	}
	thread, err := h.threads.CreateThread(c.Request.Context(), userID(c), req.Name, req.Type)
	if err != nil {
		writeError(c, "create thread", err)
		return
	}
	ok(c, "会话创建成功", thread)
}

func (h *ThreadHandler) Get(c *gin.Context) {
	thread, err := h.threads.GetThread(c.Request.Context(), userID(c), c.Param("threadId"))
	if err != nil {
		writeError(c, "get thread", err)
		return
	}
	ok(c, "success", thread)
}

func (h *ThreadHandler) Rename(c *gin.Context) {
	var req renameThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数无效")
		return
	}
	thread, err := h.threads.RenameThread(c.Request.Context(), userID(c), c.Param("threadId"), req.Name)
	if err != nil {
		writeError(c, "rename thread", err)
		return
	}
	ok(c, "会话已重命名", thread)
}

func (h *ThreadHandler) Delete(c *gin.Context) {
	if err := h.threads.DeleteThread(c.Request.Context(), userID(c), c.Param("threadId")); err != nil {
		writeError(c, "delete thread", err)
		return
	}
	ok(c, "会话已删除", nil)
}

// Messages 返回会话的全部消息，按时间升序。
func (h *ThreadHandler) Messages(c *gin.Context) {
	msgs, err := h.threads.GetMessages(c.Request.Context(), userID(c), c.Param("threadId"))
	if err != nil {
		writeError(c, "get messages", err)
		return
	}
	ok(c, "success", msgs)
}

// PostMessage 执行一轮对话并返回助手消息。
func (h *ThreadHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数无效")
		return
	}
	msg, err := h.threads.PostMessage(c.Request.Context(), userID(c), c.Param("threadId"), req.Message, nil)
	if err != nil {
		writeError(c, "post message", err)
		return
	}
	ok(c, "success", msg)
}
