package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docchat-go/internal/model"
	"docchat-go/pkg/embedding"
	"docchat-go/pkg/log"
)

// SearchService 接口定义了会话范围内的检索操作。
type SearchService interface {
	// SearchThread 在某个会话的文档分块中检索，无结果时返回空切片而不是错误。
	SearchThread(ctx context.Context, userID, threadID, query string, topK int, semanticRanker bool) ([]model.Citation, error)
}

type searchService struct {
	embeddingClient embedding.Client
	index           SearchIndex
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, index SearchIndex) SearchService {
	return &searchService{embeddingClient: embeddingClient, index: index}
}

var (
	punctuationRe = regexp.MustCompile(`[\p{P}\p{S}]+`)
	whitespaceRe  = regexp.MustCompile(`[\s\p{Cc}]+`)
)

// SanitizeQuery 去掉标点与控制字符，并把连续空白折叠为单个空格。
func SanitizeQuery(q string) string {
	q = punctuationRe.ReplaceAllString(q, "")
	q = whitespaceRe.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// SearchThread 执行混合检索：kNN 向量召回 + BM25 关键词匹配，均以 thread_id 与 user_id 过滤。
// semanticRanker 开启时追加一次基于关键词全匹配的 rescore。
func (s *searchService) SearchThread(ctx context.Context, userID, threadID, query string, topK int, semanticRanker bool) ([]model.Citation, error) {
	if topK <= 0 {
		topK = 5
	}
	if query == "" {
		return []model.Citation{}, nil
	}
	log.Infof("[SearchService] 开始检索, thread: %s, query: '%s', topK: %d", threadID, query, topK)

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	hits, err := s.index.Search(ctx, buildThreadQuery(userID, threadID, query, queryVector, topK, semanticRanker))
	if err != nil {
		return nil, err
	}

	citations := make([]model.Citation, 0, len(hits))
	for _, hit := range hits {
		chunkID := hit.Source.ChunkID
		if chunkID == "" {
			chunkID = hit.ID
		}
		citations = append(citations, model.Citation{
			DocumentID: hit.Source.DocumentID,
			FileName:   hit.Source.FileName,
			ChunkID:    chunkID,
			Content:    hit.Source.Content,
			Score:      hit.Score,
		})
	}
	log.Infof("[SearchService] 检索完成, thread: %s, 命中 %d 条", threadID, len(citations))
	return citations, nil
}

func buildThreadQuery(userID, threadID, query string, vector []float32, topK int, semanticRanker bool) map[string]interface{} {
	recallK := topK * 10
	filter := []map[string]interface{}{
		{"term": map[string]interface{}{"thread_id": threadID}},
		{"term": map[string]interface{}{"user_id": userID}},
	}
	q := map[string]interface{}{
		"size":    topK,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              recallK,
			"num_candidates": recallK,
			"filter":         filter,
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"match": map[string]interface{}{"content": query}},
				},
				"filter": filter,
			},
		},
	}
	if semanticRanker {
		q["rescore"] = map[string]interface{}{
			"window_size": recallK,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"content": map[string]interface{}{
							"query":    query,
							"operator": "and",
						},
					},
				},
				"query_weight":         0.2, // 保留部分 k-NN 分数
				"rescore_query_weight": 1.0, // BM25 分数权重
			},
		}
	}
	return q
}
