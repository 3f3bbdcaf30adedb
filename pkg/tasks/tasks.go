// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IngestionTask represents the data structure for a document ingestion job.
type IngestionTask struct {
	DocumentID  string `json:"document_id"`
	ThreadID    string `json:"thread_id"`
	UserID      string `json:"user_id"`
	FileName    string `json:"file_name"`
	ObjectName  string `json:"object_name"`
	ContentType string `json:"content_type"`
}

// ThreadChangedEvent is published on every thread update; consumers purge threads whose Deleted flag is set.
type ThreadChangedEvent struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}
