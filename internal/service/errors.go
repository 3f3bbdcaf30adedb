// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"

	"docchat-go/internal/repository"
)

// ErrorKind 标识错误来自哪个协作方。
type ErrorKind string

const (
	KindAIService        ErrorKind = "AIService"
	KindSearchService    ErrorKind = "SearchService"
	KindThreadRepository ErrorKind = "ThreadRepository"
	KindDocumentRegistry ErrorKind = "DocumentRegistry"
	KindDocumentStore    ErrorKind = "DocumentStore"
)

// ServiceError 包装下游错误并记录其来源，可通过 errors.As 取出。
type ServiceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func newServiceError(kind ErrorKind, op string, err error) error {
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// KindOf 返回错误链上第一个 ServiceError 的分类。
func KindOf(err error) (ErrorKind, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

var (
	ErrThreadNotFound   = repository.ErrThreadNotFound
	ErrDocumentNotFound = repository.ErrDocumentNotFound
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyCompletion  = errors.New("completion returned no content")
	ErrThreadActive     = errors.New("thread is not soft-deleted")
)

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
