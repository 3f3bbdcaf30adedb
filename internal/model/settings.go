package model

// PredefinedPrompt 是前端展示的预置提问。
type PredefinedPrompt struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Tool 描述助手可用的工具开关。
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Settings 是进程级的运行时设置，只会被整体替换。
type Settings struct {
	AllowFollowUpPrompts      bool               `json:"allowFollowUpPrompts"`
	AllowInitialPromptRewrite bool               `json:"allowInitialPromptRewrite"`
	UseSemanticRanker         bool               `json:"useSemanticRanker"`
	Temperature               float64            `json:"temperature"`
	Seed                      *int               `json:"seed"`
	PredefinedPrompts         []PredefinedPrompt `json:"predefinedPrompts"`
	Tools                     []Tool             `json:"tools"`
}

// Clone 返回深拷贝，调用方可以随意修改而不影响原值。
func (s Settings) Clone() Settings {
	out := s
	if s.Seed != nil {
		seed := *s.Seed
		out.Seed = &seed
	}
	if s.PredefinedPrompts != nil {
		out.PredefinedPrompts = make([]PredefinedPrompt, len(s.PredefinedPrompts))
		copy(out.PredefinedPrompts, s.PredefinedPrompts)
	}
	if s.Tools != nil {
		out.Tools = make([]Tool, len(s.Tools))
		copy(out.Tools, s.Tools)
	}
	return out
}
