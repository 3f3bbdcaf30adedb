package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"
	"docchat-go/pkg/metrics"
	"docchat-go/pkg/tasks"
)

const defaultThreadName = "New chat"

// 单轮对话的进度阶段，供 WebSocket 推送。
const (
	StageMessageSaved = "message_saved"
	StageRewriting    = "rewriting_query"
	StageSearching    = "searching"
	StageGenerating   = "generating_answer"
	StageFollowUps    = "generating_follow_ups"
	StageAnswerSaved  = "answer_saved"
)

const (
	maxMessageRunes    = 8000
	maxThreadNameRunes = 255
)

// ProgressFunc 接收单轮对话的阶段通知，可以为 nil。
type ProgressFunc func(stage string)

// ThreadService 协调会话与单轮对话。
type ThreadService interface {
	CreateThread(ctx context.Context, userID, name, threadType string) (*model.Thread, error)
	ListThreads(ctx context.Context, userID string) ([]model.Thread, error)
	GetThread(ctx context.Context, userID, threadID string) (*model.Thread, error)
	RenameThread(ctx context.Context, userID, threadID, name string) (*model.Thread, error)
	// DeleteThread 软删除会话并发布变更事件，物理删除由清理任务完成。
	DeleteThread(ctx context.Context, userID, threadID string) error
	GetMessages(ctx context.Context, userID, threadID string) ([]model.ThreadMessage, error)
	// PostMessage 处理一轮对话并返回已持久化的助手消息。
	PostMessage(ctx context.Context, userID, threadID, message string, progress ProgressFunc) (*model.ThreadMessage, error)
}

type threadService struct {
	threads   repository.ThreadRepository
	ai        AIService
	search    SearchService
	settings  SettingsService
	publisher ThreadChangePublisher
	chatCfg   config.ChatConfig
	now       func() time.Time
}

// NewThreadService 创建一个新的 ThreadService 实例。
func NewThreadService(
	threads repository.ThreadRepository,
	ai AIService,
	search SearchService,
	settings SettingsService,
	publisher ThreadChangePublisher,
	chatCfg config.ChatConfig,
) ThreadService {
	if chatCfg.TopK <= 0 {
		chatCfg.TopK = 5
	}
	if chatCfg.HistoryMaxMessages <= 0 {
		chatCfg.HistoryMaxMessages = 20
	}
	return &threadService{
		threads:   threads,
		ai:        ai,
		search:    search,
		settings:  settings,
		publisher: publisher,
		chatCfg:   chatCfg,
		now:       time.Now,
	}
}

func (s *threadService) CreateThread(ctx context.Context, userID, name, threadType string) (*model.Thread, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultThreadName
	}
	if len([]rune(name)) > maxThreadNameRunes {
		return nil, invalidInput("thread name longer than %d characters", maxThreadNameRunes)
	}
	if threadType == "" {
		threadType = "default"
	}
	thread := &model.Thread{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   threadType,
		Name:   name,
	}
	if err := s.threads.Create(ctx, thread); err != nil {
		return nil, newServiceError(KindThreadRepository, "create thread", err)
	}
	s.publishChange(ctx, thread)
	log.Infof("[ThreadService] 用户 %s 创建会话 %s", userID, thread.ID)
	return thread, nil
}

func (s *threadService) ListThreads(ctx context.Context, userID string) ([]model.Thread, error) {
	threads, err := s.threads.ListByUser(ctx, userID)
	if err != nil {
		return nil, newServiceError(KindThreadRepository, "list threads", err)
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	return threads, nil
}

func (s *threadService) GetThread(ctx context.Context, userID, threadID string) (*model.Thread, error) {
	return loadOwnedThread(ctx, s.threads, userID, threadID)
}

func (s *threadService) RenameThread(ctx context.Context, userID, threadID, name string) (*model.Thread, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("thread name is required")
	}
	if len([]rune(name)) > maxThreadNameRunes {
		return nil, invalidInput("thread name longer than %d characters", maxThreadNameRunes)
	}
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}
	thread, err := s.threads.Rename(ctx, threadID, name)
	if err != nil {
		return nil, newServiceError(KindThreadRepository, "rename thread", err)
	}
	s.publishChange(ctx, thread)
	return thread, nil
}

func (s *threadService) DeleteThread(ctx context.Context, userID, threadID string) error {
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return err
	}
	thread, err := s.threads.MarkDeleted(ctx, threadID, s.now())
	if err != nil {
		return newServiceError(KindThreadRepository, "delete thread", err)
	}
	log.Infof("[ThreadService] 会话 %s 已软删除", threadID)
	s.publishChange(ctx, thread)
	return nil
}

func (s *threadService) GetMessages(ctx context.Context, userID, threadID string) ([]model.ThreadMessage, error) {
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}
	msgs, err := s.threads.ListMessages(ctx, threadID, 0)
	if err != nil {
		return nil, newServiceError(KindThreadRepository, "list messages", err)
	}
	if msgs == nil {
		msgs = []model.ThreadMessage{}
	}
	return msgs, nil
}

func (s *threadService) PostMessage(ctx context.Context, userID, threadID, message string, progress ProgressFunc) (*model.ThreadMessage, error) {
	if progress == nil {
		progress = func(string) {}
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalidInput("message is required")
	}
	if len([]rune(message)) > maxMessageRunes {
		return nil, invalidInput("message longer than %d characters", maxMessageRunes)
	}
	if _, err := loadOwnedThread(ctx, s.threads, userID, threadID); err != nil {
		return nil, err
	}
	settings := s.settings.Get()

	// a. 先持久化用户消息，之后才允许任何检索或模型调用
	userMsg := s.newMessage(threadID, userID, model.RoleUser, message, model.MessageContext{})
	if err := s.threads.AppendMessage(ctx, userMsg); err != nil {
		metrics.ChatTurns.WithLabelValues("persist_failed").Inc()
		return nil, newServiceError(KindThreadRepository, "append user message", err)
	}
	progress(StageMessageSaved)

	// b. 构建历史
	prior, err := s.threads.ListMessages(ctx, threadID, s.chatCfg.HistoryMaxMessages)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("persist_failed").Inc()
		return nil, newServiceError(KindThreadRepository, "load history", err)
	}
	history := s.ai.BuildHistory(prior)

	// c. 可选的查询改写，失败时退回原始消息
	query := message
	if settings.AllowInitialPromptRewrite {
		progress(StageRewriting)
		rewritten, err := s.ai.RewriteQuery(ctx, history, settings)
		switch {
		case err != nil:
			log.Warnf("[ThreadService] 查询改写失败，使用原始消息检索, thread: %s, error: %v", threadID, err)
		case rewritten != "":
			query = rewritten
		}
	}

	// d. 清洗并在会话范围内检索
	progress(StageSearching)
	query = SanitizeQuery(query)
	citations, err := s.search.SearchThread(ctx, userID, threadID, query, s.chatCfg.TopK, settings.UseSemanticRanker)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("search_failed").Inc()
		return nil, newServiceError(KindSearchService, "search thread documents", err)
	}

	// e. 注入检索结果，空结果降级为“无来源”提示
	history = s.ai.AddGrounding(history, citations)

	// f. 请求回答，失败则不写入助手消息
	progress(StageGenerating)
	answer, err := s.ai.Complete(ctx, history, settings)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("completion_failed").Inc()
		return nil, newServiceError(KindAIService, "complete", err)
	}

	// g. 可选的追问建议，失败只记录日志
	followUps := []string{}
	if settings.AllowFollowUpPrompts {
		progress(StageFollowUps)
		qs, err := s.ai.FollowUpQuestions(ctx, history, answer, settings)
		if err != nil {
			log.Warnf("[ThreadService] 生成追问建议失败, thread: %s, error: %v", threadID, err)
		} else {
			followUps = qs
		}
	}

	// h. 持久化并返回助手消息
	assistantMsg := s.newMessage(threadID, userID, model.RoleAssistant, answer, model.MessageContext{
		FollowUpQuestions: followUps,
		Citations:         citations,
		Thoughts:          thoughts(query, citations),
		DataPoints:        dataPoints(citations),
	})
	if err := s.threads.AppendMessage(ctx, assistantMsg); err != nil {
		metrics.ChatTurns.WithLabelValues("persist_failed").Inc()
		return nil, newServiceError(KindThreadRepository, "append assistant message", err)
	}
	progress(StageAnswerSaved)
	metrics.ChatTurns.WithLabelValues("answered").Inc()
	return assistantMsg, nil
}

func (s *threadService) newMessage(threadID, userID, role, content string, mctx model.MessageContext) *model.ThreadMessage {
	if mctx.Citations == nil {
		mctx.Citations = []model.Citation{}
	}
	if mctx.FollowUpQuestions == nil {
		mctx.FollowUpQuestions = []string{}
	}
	return &model.ThreadMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ThreadID:  threadID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		Context:   datatypes.NewJSONType(mctx),
		CreatedAt: s.now(),
	}
}

func (s *threadService) publishChange(ctx context.Context, thread *model.Thread) {
	if s.publisher == nil || thread == nil {
		return
	}
	event := tasks.ThreadChangedEvent{
		ThreadID:  thread.ID,
		UserID:    thread.UserID,
		Deleted:   thread.Deleted,
		UpdatedAt: thread.UpdatedAt,
	}
	if err := s.publisher.PublishThreadChanged(ctx, event); err != nil {
		// 定时清理会兜底处理遗漏的事件
		log.Warnf("[ThreadService] 发布会话变更事件失败, thread: %s, error: %v", thread.ID, err)
	}
}

func thoughts(query string, citations []model.Citation) string {
	if query == "" {
		return "No search query could be derived from the question."
	}
	return fmt.Sprintf("Searched thread documents for %q and found %d source(s).", query, len(citations))
}

func dataPoints(citations []model.Citation) []string {
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		out = append(out, c.FileName+": "+c.Content)
	}
	return out
}

// loadOwnedThread 返回属于 userID 的活跃会话。
func loadOwnedThread(ctx context.Context, threads repository.ThreadRepository, userID, threadID string) (*model.Thread, error) {
	thread, err := threads.Get(ctx, threadID)
	if errors.Is(err, repository.ErrThreadNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, newServiceError(KindThreadRepository, "get thread", err)
	}
	if thread.Deleted {
		return nil, ErrThreadNotFound
	}
	if thread.UserID != userID {
		return nil, ErrForbidden
	}
	return thread, nil
}
