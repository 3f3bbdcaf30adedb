package model

// IndexDoc 定义了存储在 Elasticsearch 中的分块文档结构，写入后不再修改。
type IndexDoc struct {
	ChunkID    string    `json:"chunk_id"`
	Content    string    `json:"content"`
	FileName   string    `json:"file_name"`
	DocumentID string    `json:"document_id"`
	ThreadID   string    `json:"thread_id"`
	UserID     string    `json:"user_id"`
	ChunkIndex int       `json:"chunk_index"`
	Vector     []float32 `json:"vector,omitempty"`
}
