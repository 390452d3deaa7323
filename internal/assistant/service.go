// Package assistant implements classification, reply generation and media
// description on top of an LLM provider.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scalytics/parley/internal/config"
	"github.com/scalytics/parley/internal/provider"
	"github.com/scalytics/parley/internal/session"
)

// ErrEmptyPayload is returned when the model answers with no usable text.
var ErrEmptyPayload = errors.New("empty model response")

// ErrInvalidAnswer is returned when a yes/no question gets another answer.
var ErrInvalidAnswer = errors.New("invalid yes/no answer")

// Service turns conversation history into model requests.
type Service struct {
	llm     provider.LLMProvider
	models  config.ModelsConfig
	prompts *Prompts
	persona string
	logger  *slog.Logger
}

// NewService creates an assistant service. A nil prompts uses the defaults.
func NewService(llm provider.LLMProvider, models config.ModelsConfig, prompts *Prompts, personaName string, logger *slog.Logger) *Service {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if personaName == "" {
		personaName = "Parley"
	}
	return &Service{
		llm:     llm,
		models:  models,
		prompts: prompts,
		persona: personaName,
		logger:  logger.With("component", "assistant"),
	}
}

// Classify asks which kind of reply fits the conversation.
func (s *Service) Classify(ctx context.Context, history []session.Message) (Label, error) {
	msgs := s.framed(s.prompts.Classify, history, "{name}", s.persona)
	text, err := s.complete(ctx, s.models.Classifier, msgs)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return ParseLabel(text)
}

// SystemPrompt returns the persona prompt replies are generated under.
func (s *Service) SystemPrompt() string {
	return fill(s.prompts.Persona, "{name}", s.persona)
}

// GenerateReply writes the assistant's next message. A non-empty note is
// injected as grounding after the history.
func (s *Service) GenerateReply(ctx context.Context, history []session.Message, note string) (string, error) {
	msgs := []provider.Message{{Role: "system", Content: s.SystemPrompt()}}
	msgs = append(msgs, historyMessages(history)...)
	if note = strings.TrimSpace(note); note != "" {
		msgs = append(msgs, provider.Message{
			Role:    "system",
			Content: fill(s.prompts.ResearchNote) + "\n\n" + note,
		})
	}
	text, err := s.complete(ctx, s.models.Reply, msgs)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return text, nil
}

// GenerateSearchQuery derives a search query for the given label.
func (s *Service) GenerateSearchQuery(ctx context.Context, label Label, history []session.Message) (string, error) {
	msgs := s.framed(s.prompts.SearchQuery, history, "{kind}", label.SearchKind(), "{name}", s.persona)
	text, err := s.complete(ctx, s.models.Classifier, msgs)
	if err != nil {
		return "", fmt.Errorf("search query: %w", err)
	}
	return strings.Trim(text, "\"'`"), nil
}

// IsFollowupNeeded asks whether the assistant should keep talking.
func (s *Service) IsFollowupNeeded(ctx context.Context, history []session.Message) (bool, error) {
	msgs := s.framed(s.prompts.Followup, history, "{name}", s.persona)
	text, err := s.complete(ctx, s.models.Classifier, msgs)
	if err != nil {
		return false, fmt.Errorf("followup: %w", err)
	}
	switch strings.Trim(strings.ToLower(text), " .!'\"") {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidAnswer, text)
	}
}

// DescribeImage returns a short description of an image.
func (s *Service) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	p := s.prompts.DescribeImage
	msgs := []provider.Message{
		{Role: "system", Content: fill(p.System)},
		{Role: "user", Content: fill(p.User), Images: []provider.Image{{Data: data, MimeType: mimeType}}},
	}
	text, err := s.complete(ctx, s.models.Vision, msgs)
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	return text, nil
}

// SummarizeText condenses a description to one or two sentences.
func (s *Service) SummarizeText(ctx context.Context, text string) (string, error) {
	p := s.prompts.SummarizeText
	msgs := []provider.Message{
		{Role: "system", Content: fill(p.System)},
		{Role: "user", Content: fill(p.User, "{text}", text)},
	}
	out, err := s.complete(ctx, s.models.Reply, msgs)
	if err != nil {
		return "", fmt.Errorf("summarize text: %w", err)
	}
	return out, nil
}

// SummarizeLink guesses a page's content from its URL alone.
func (s *Service) SummarizeLink(ctx context.Context, url string) (string, error) {
	p := s.prompts.SummarizeLink
	msgs := []provider.Message{
		{Role: "system", Content: fill(p.System)},
		{Role: "user", Content: fill(p.User, "{url}", url)},
	}
	out, err := s.complete(ctx, s.models.Reply, msgs)
	if err != nil {
		return "", fmt.Errorf("summarize link: %w", err)
	}
	return out, nil
}

// framed builds system prompt + history + affix instruction.
func (s *Service) framed(p PromptPair, history []session.Message, replacements ...string) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+2)
	msgs = append(msgs, provider.Message{Role: "system", Content: fill(p.System, replacements...)})
	msgs = append(msgs, historyMessages(history)...)
	if p.Affix != "" {
		msgs = append(msgs, provider.Message{Role: "user", Content: fill(p.Affix, replacements...)})
	}
	return msgs
}

func (s *Service) complete(ctx context.Context, profile config.ModelProfile, msgs []provider.Message) (string, error) {
	resp, err := s.llm.Chat(ctx, &provider.ChatRequest{
		Messages:    msgs,
		Model:       profile.Model,
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyPayload
	}
	s.logger.Debug("Completion", "model", profile.Model, "tokens", resp.Usage.TotalTokens)
	return text, nil
}

// historyMessages maps stored messages onto chat roles, oldest first.
func historyMessages(history []session.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == session.RoleAssistant {
			role = "assistant"
		}
		out = append(out, provider.Message{Role: role, Content: m.Content})
	}
	return out
}
