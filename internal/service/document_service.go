package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"
	"docchat-go/pkg/tasks"
)

// supportedExtensions 是 Tika 可以解析并进行向量化处理的文档类型。
var supportedExtensions = map[string]string{
	".pdf":  "PDF",
	".doc":  "Word",
	".docx": "Word",
	".xls":  "Excel",
	".xlsx": "Excel",
	".ppt":  "PowerPoint",
	".pptx": "PowerPoint",
	".txt":  "Text",
	".md":   "Markdown",
	".html": "HTML",
	".csv":  "CSV",
}

// IsSupportedFile 判断文件名后缀是否受支持。
func IsSupportedFile(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// FileType 描述一种可上传的文件类型。
type FileType struct {
	Extension string `json:"extension"`
	Kind      string `json:"kind"`
}

// SupportedFileTypes 按后缀排序返回所有受支持的文件类型。
func SupportedFileTypes() []FileType {
	out := make([]FileType, 0, len(supportedExtensions))
	for ext, kind := range supportedExtensions {
		out = append(out, FileType{Extension: ext, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// UploadFile 是一份待上传的文件。
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// DocumentService 管理会话内的文档。
type DocumentService interface {
	Upload(ctx context.Context, userID, threadID string, files []UploadFile) ([]model.DocsPerThread, error)
	List(ctx context.Context, userID, threadID string) ([]model.DocsPerThread, error)
	// Delete 先软删除文档记录，再移除索引分块与原件。
	Delete(ctx context.Context, userID, threadID, documentID string) error
	// RefreshAvailability 查询索引，把已有分块的文档标记为可检索。
	RefreshAvailability(ctx context.Context, userID, threadID string) ([]model.DocsPerThread, error)
	DownloadURL(ctx context.Context, userID, threadID, documentID string) (string, error)
}

type documentService struct {
	threads      repository.ThreadRepository
	docs         repository.DocumentRepository
	chunks       repository.ChunkRepository
	index        SearchIndex
	blobs        BlobStore
	publisher    IngestionPublisher
	maxFileBytes int64
	now          func() time.Time
}

// NewDocumentService 创建一个新的 DocumentService 实例。maxFileBytes 为单个文件的大小上限。
func NewDocumentService(
	threads repository.ThreadRepository,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	index SearchIndex,
	blobs BlobStore,
	publisher IngestionPublisher,
	maxFileBytes int64,
) DocumentService {
	return &documentService{
		threads:      threads,
		docs:         docs,
		chunks:       chunks,
		index:        index,
		blobs:        blobs,
		publisher:    publisher,
		maxFileBytes: maxFileBytes,
		now:          time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, userID, threadID string, files []UploadFile) ([]model.DocsPerThread, error) {
	if len(files) == 0 {
		return nil, invalidInput("no files uploaded")
	}
	for i := range files {
		files[i].Name = filepath.Base(strings.ReplaceAll(files[i].Name, "\\", "/"))
		f := files[i]
		if f.Name == "" || f.Name == "." || f.Name == "/" {
			return nil, invalidInput("file name is required")
		}
		if !IsSupportedFile(f.Name) {
			return nil, invalidInput("unsupported file type for %s", f.Name)
		}
		if f.Size <= 0 {
			return nil, invalidInput("file %s is empty", f.Name)
		}
		if s.maxFileBytes > 0 && f.Size > s.maxFileBytes {
			return nil, invalidInput("file %s exceeds %d bytes", f.Name, s.maxFileBytes)
		}
	}
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}

	// 批量上传要么全部成功，要么全部回滚；已投递的任务会因文档不存在而被跳过
	created := make([]model.DocsPerThread, 0, len(files))
	for _, f := range files {
		doc, err := s.uploadOne(ctx, userID, threadID, f)
		if err != nil {
			for i := range created {
				s.rollbackUpload(ctx, &created[i])
			}
			return nil, err
		}
		created = append(created, *doc)
	}
	return created, nil
}

// rollbackUpload 删除登记行和对象，失败只记录日志。
func (s *documentService) rollbackUpload(ctx context.Context, doc *model.DocsPerThread) {
	if err := s.docs.HardDelete(ctx, doc.ID); err != nil {
		log.Warnw("[DocumentService] 回滚文档记录失败", "document", doc.ID, "thread", doc.ThreadID, "error", err)
	}
	if err := s.blobs.Remove(ctx, doc.ObjectName()); err != nil {
		log.Warnw("[DocumentService] 回滚对象失败", "object", doc.ObjectName(), "error", err)
	}
}

func (s *documentService) uploadOne(ctx context.Context, userID, threadID string, f UploadFile) (*model.DocsPerThread, error) {
	docID := uuid.NewString()
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc := &model.DocsPerThread{
		ID:           docID,
		ThreadID:     threadID,
		UserID:       userID,
		DocumentName: f.Name,
		ContentType:  contentType,
		FileSize:     f.Size,
		UploadDate:   s.now(),
		Folder:       model.DocumentFolder(threadID, docID),
	}

	if err := s.blobs.Put(ctx, doc.ObjectName(), f.Reader, f.Size, contentType); err != nil {
		return nil, newServiceError(KindDocumentStore, "store document", err)
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if rmErr := s.blobs.Remove(ctx, doc.ObjectName()); rmErr != nil {
			log.Warnf("[DocumentService] 回滚对象 %s 失败: %v", doc.ObjectName(), rmErr)
		}
		return nil, newServiceError(KindDocumentRegistry, "register document", err)
	}
	task := tasks.IngestionTask{
		DocumentID:  doc.ID,
		ThreadID:    threadID,
		UserID:      userID,
		FileName:    doc.DocumentName,
		ObjectName:  doc.ObjectName(),
		ContentType: contentType,
	}
	if err := s.publisher.PublishIngestion(ctx, task); err != nil {
		s.rollbackUpload(ctx, doc)
		return nil, newServiceError(KindDocumentRegistry, "enqueue ingestion", err)
	}
	log.Infof("[DocumentService] 文档已上传并投递入库任务, thread: %s, document: %s, name: %s", threadID, doc.ID, doc.DocumentName)
	return doc, nil
}

func (s *documentService) List(ctx context.Context, userID, threadID string) ([]model.DocsPerThread, error) {
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}
	docs, err := s.docs.ListByThread(ctx, threadID, false)
	if err != nil {
		return nil, newServiceError(KindDocumentRegistry, "list documents", err)
	}
	if docs == nil {
		docs = []model.DocsPerThread{}
	}
	return docs, nil
}

func (s *documentService) loadDocument(ctx context.Context, userID, threadID, documentID string) (*model.DocsPerThread, error) {
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}
	doc, err := s.docs.Get(ctx, documentID)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, newServiceError(KindDocumentRegistry, "get document", err)
	}
	if doc.ThreadID != threadID || doc.Deleted {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) Delete(ctx context.Context, userID, threadID, documentID string) error {
	doc, err := s.loadDocument(ctx, userID, threadID, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.MarkDeleted(ctx, doc.ID); err != nil {
		return newServiceError(KindDocumentRegistry, "soft delete document", err)
	}
	if _, err := s.index.DeleteByTerm(ctx, "document_id", doc.ID); err != nil {
		return newServiceError(KindSearchService, "remove document chunks", err)
	}
	if err := s.blobs.Remove(ctx, doc.ObjectName()); err != nil {
		return newServiceError(KindDocumentStore, "remove document blob", err)
	}
	if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
		return newServiceError(KindDocumentRegistry, "remove staged chunks", err)
	}
	log.Infof("[DocumentService] 文档已删除, thread: %s, document: %s", threadID, doc.ID)
	return nil
}

func (s *documentService) RefreshAvailability(ctx context.Context, userID, threadID string) ([]model.DocsPerThread, error) {
	docs, err := s.List(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		d := &docs[i]
		if d.AvailableInSearchIndex {
			continue
		}
		n, err := s.index.CountByTerm(ctx, "document_id", d.ID)
		if err != nil {
			return nil, newServiceError(KindSearchService, "count document chunks", err)
		}
		if n == 0 {
			continue
		}
		chunkID := model.ChunkKey(d.ID, 0)
		if err := s.docs.MarkAvailable(ctx, d.ID, chunkID); err != nil {
			return nil, newServiceError(KindDocumentRegistry, "mark document available", err)
		}
		d.AvailableInSearchIndex = true
		d.ExtractAvailable = true
		d.ChunkID = chunkID
	}
	return docs, nil
}

func (s *documentService) DownloadURL(ctx context.Context, userID, threadID, documentID string) (string, error) {
	doc, err := s.loadDocument(ctx, userID, threadID, documentID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.PresignedURL(ctx, doc.ObjectName(), time.Hour)
	if err != nil {
		return "", newServiceError(KindDocumentStore, "presign download url", err)
	}
	return url, nil
}
