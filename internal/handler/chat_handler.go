package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 来源检查由 CORS 中间件负责
	},
}

// WebSocket 帧类型
const (
	frameStatus     = "status"
	frameMessage    = "message"
	frameError      = "error"
	frameCompletion = "completion"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatFrame struct {
	Type      string      `json:"type"`
	Stage     string      `json:"stage,omitempty"`
	Code      int         `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ChatHandler 通过 WebSocket 执行对话，推送各阶段状态与最终的助手消息。
type ChatHandler struct {
	threads service.ThreadService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(threads service.ThreadService) *ChatHandler {
	return &ChatHandler{threads: threads}
}

// Handle 处理一个传入的 WebSocket 连接。同一连接上的消息按顺序处理。
func (h *ChatHandler) Handle(c *gin.Context) {
	uid := userID(c)
	threadID := c.Param("threadId")
	// 握手前先校验会话归属，失败时仍可返回普通 HTTP 错误
	if _, err := h.threads.GetThread(c.Request.Context(), uid, threadID); err != nil {
		writeError(c, "open chat", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s, 会话: %s", uid, threadID)

	send := func(f chatFrame) error {
		f.Timestamp = time.Now().UnixMilli()
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			// 兼容直接发送纯文本
			req.Message = string(raw)
		}

		progress := func(stage string) {
			if err := send(chatFrame{Type: frameStatus, Stage: stage}); err != nil {
				log.Warnf("推送进度失败: %v", err)
			}
		}
		msg, err := h.threads.PostMessage(c.Request.Context(), uid, threadID, req.Message, progress)
		if err != nil {
			status := statusOf(err)
			text := err.Error()
			if status >= http.StatusInternalServerError {
				log.Errorf("处理对话失败, thread: %s, error: %v", threadID, err)
				text = "AI服务暂时不可用，请稍后重试"
			}
			_ = send(chatFrame{Type: frameError, Code: status, Message: text})
		} else {
			_ = send(chatFrame{Type: frameMessage, Data: msg})
		}
		if err := send(chatFrame{Type: frameCompletion, Message: "响应已完成"}); err != nil {
			return
		}
	}
}
