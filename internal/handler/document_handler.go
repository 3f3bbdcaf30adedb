package handler

import (
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat-go/internal/service"
	"docchat-go/pkg/log"
)

// DocumentHandler 负责处理会话内文档的 API 请求。
type DocumentHandler struct {
	docs         service.DocumentService
	maxBodyBytes int64
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。maxBodyBytes 是整个上传请求体的上限。
func NewDocumentHandler(docs service.DocumentService, maxBodyBytes int64) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxBodyBytes: maxBodyBytes}
}

// List 返回会话内未删除的文档。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docs.List(c.Request.Context(), userID(c), c.Param("threadId"))
	if err != nil {
		writeError(c, "list documents", err)
		return
	}
	ok(c, "success", docs)
}

// Upload 接收 multipart 表单中的 files 字段，可以包含多个文件。
func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		if statusOf(err) == http.StatusRequestEntityTooLarge {
			fail(c, http.StatusRequestEntityTooLarge, "上传文件过大")
			return
		}
		fail(c, http.StatusBadRequest, "无效的 multipart 请求")
		return
	}
	defer form.RemoveAll()

	headers := form.File["files"]
	if len(headers) == 0 {
		fail(c, http.StatusBadRequest, "缺少上传文件")
		return
	}
	files := make([]service.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			log.Errorf("[DocumentHandler] 打开上传文件失败, file: %s, error: %v", fh.Filename, err)
			fail(c, http.StatusBadRequest, "无法读取上传文件")
			return
		}
		opened = append(opened, f)
		files = append(files, service.UploadFile{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Reader:      f,
		})
	}

	docs, err := h.docs.Upload(c.Request.Context(), userID(c), c.Param("threadId"), files)
	if err != nil {
		writeError(c, "upload documents", err)
		return
	}
	ok(c, "文件上传成功", docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.docs.Delete(c.Request.Context(), userID(c), c.Param("threadId"), c.Param("documentId"))
	if err != nil {
		writeError(c, "delete document", err)
		return
	}
	ok(c, "文档删除成功", nil)
}

// Refresh 刷新会话内文档的索引可用状态。
func (h *DocumentHandler) Refresh(c *gin.Context) {
	docs, err := h.docs.RefreshAvailability(c.Request.Context(), userID(c), c.Param("threadId"))
	if err != nil {
		writeError(c, "refresh documents", err)
		return
	}
	ok(c, "success", docs)
}

// Download 返回文档原件的预签名下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	url, err := h.docs.DownloadURL(c.Request.Context(), userID(c), c.Param("threadId"), c.Param("documentId"))
	if err != nil {
		writeError(c, "download document", err)
		return
	}
	ok(c, "文件下载链接生成成功", gin.H{"url": url})
}

// SupportedTypes 返回可上传的文件后缀。
func (h *DocumentHandler) SupportedTypes(c *gin.Context) {
	ok(c, "获取支持的文件类型成功", service.SupportedFileTypes())
}
