package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/pkg/llm"
)

const (
	defaultSystemRules = "You are an assistant that answers questions about the documents the user uploaded to this conversation. " +
		"Answer only from the provided sources. If the sources do not contain the answer, say you don't know. " +
		"Cite the file name of every source you use in square brackets, e.g. [policy.pdf]."
	defaultRewriteRules = "Rewrite the user's latest question into a short keyword search query for a document index. " +
		"Use the conversation for context. Do not answer the question. Return only the query text."
	defaultFollowUpRules = "Suggest %d short follow-up questions the user might ask next about their documents. " +
		"Return one question per line with no numbering."
	defaultNoResultText = "(no sources found for this question)"
)

// AIService 封装模型调用：构建历史、改写查询、生成回答与追问建议。
type AIService interface {
	// BuildHistory 将会话消息转换为模型输入：system 提示 + 按时间排列的历史轮次。
	BuildHistory(messages []model.ThreadMessage) []llm.Message
	// AddGrounding 将检索结果以 system 消息的形式插入到最后一条用户消息之前。
	AddGrounding(history []llm.Message, citations []model.Citation) []llm.Message
	RewriteQuery(ctx context.Context, history []llm.Message, settings model.Settings) (string, error)
	Complete(ctx context.Context, history []llm.Message, settings model.Settings) (string, error)
	FollowUpQuestions(ctx context.Context, history []llm.Message, answer string, settings model.Settings) ([]string, error)
	Ping(ctx context.Context) error
}

type aiService struct {
	client        llm.Client
	prompt        config.LLMPromptConfig
	followUpCount int
}

// NewAIService 创建一个新的 AIService 实例。
func NewAIService(client llm.Client, prompt config.LLMPromptConfig, followUpCount int) AIService {
	if prompt.Rules == "" {
		prompt.Rules = defaultSystemRules
	}
	if prompt.RewriteRules == "" {
		prompt.RewriteRules = defaultRewriteRules
	}
	if prompt.FollowUpRules == "" {
		prompt.FollowUpRules = defaultFollowUpRules
	}
	if prompt.RefStart == "" {
		prompt.RefStart = "<<REF>>"
	}
	if prompt.RefEnd == "" {
		prompt.RefEnd = "<<END>>"
	}
	if prompt.NoResultText == "" {
		prompt.NoResultText = defaultNoResultText
	}
	if followUpCount <= 0 {
		followUpCount = 3
	}
	return &aiService{client: client, prompt: prompt, followUpCount: followUpCount}
}

func (s *aiService) BuildHistory(messages []model.ThreadMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: s.prompt.Rules})
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (s *aiService) AddGrounding(history []llm.Message, citations []model.Citation) []llm.Message {
	grounding := llm.Message{Role: llm.RoleSystem, Content: s.groundingText(citations)}
	last := lastUserIndex(history)
	out := make([]llm.Message, 0, len(history)+1)
	if last < 0 {
		out = append(out, history...)
		return append(out, grounding)
	}
	out = append(out, history[:last]...)
	out = append(out, grounding)
	return append(out, history[last:]...)
}

func (s *aiService) groundingText(citations []model.Citation) string {
	// 与入库时的分块大小对齐，尽量不截断分块内容
	const maxSnippetLen = 1000
	var sb strings.Builder
	sb.WriteString(s.prompt.RefStart)
	sb.WriteString("\n")
	if len(citations) == 0 {
		sb.WriteString(s.prompt.NoResultText)
		sb.WriteString("\n")
	}
	for i, c := range citations {
		text := c.Content
		if runes := []rune(text); len(runes) > maxSnippetLen {
			text = string(runes[:maxSnippetLen]) + "…"
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, c.FileName, text)
	}
	sb.WriteString(s.prompt.RefEnd)
	return sb.String()
}

func (s *aiService) RewriteQuery(ctx context.Context, history []llm.Message, settings model.Settings) (string, error) {
	last := lastUserIndex(history)
	if last < 0 {
		return "", invalidInput("history has no user message")
	}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: s.prompt.RewriteRules}}
	// 只保留最近几轮作为改写上下文
	start := last - 4
	if start < 0 {
		start = 0
	}
	for _, m := range history[start : last+1] {
		if m.Role != llm.RoleSystem {
			msgs = append(msgs, m)
		}
	}

	zero := 0.0
	query, err := s.client.ChatCompletion(ctx, msgs, &llm.GenerationParams{Temperature: &zero, Seed: settings.Seed})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(query), `"'`), nil
}

func (s *aiService) Complete(ctx context.Context, history []llm.Message, settings model.Settings) (string, error) {
	temp := settings.Temperature
	answer, err := s.client.ChatCompletion(ctx, history, &llm.GenerationParams{Temperature: &temp, Seed: settings.Seed})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyCompletion
	}
	return answer, nil
}

func (s *aiService) FollowUpQuestions(ctx context.Context, history []llm.Message, answer string, settings model.Settings) ([]string, error) {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: answer})
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(s.prompt.FollowUpRules, s.followUpCount)})

	temp := settings.Temperature
	raw, err := s.client.ChatCompletion(ctx, msgs, &llm.GenerationParams{Temperature: &temp, Seed: settings.Seed})
	if err != nil {
		return nil, err
	}
	return parseFollowUps(raw, s.followUpCount), nil
}

func (s *aiService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)]|<<|>>)\s*`)

// parseFollowUps 每行一个问题，去掉编号与项目符号，最多返回 max 个。
func parseFollowUps(raw string, max int) []string {
	out := make([]string, 0, max)
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(line)
		for stripped := listMarker.ReplaceAllString(q, ""); stripped != q; stripped = listMarker.ReplaceAllString(q, "") {
			q = stripped
		}
		q = strings.TrimSpace(strings.TrimSuffix(q, ">>"))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

func lastUserIndex(history []llm.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return i
		}
	}
	return -1
}
