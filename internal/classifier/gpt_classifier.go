package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/models"
)

var (
	ErrEmptyText       = errors.New("nothing to analyze")
	ErrInvalidResponse = errors.New("model response is not valid JSON")
)

// ChatCompleter is the part of the OpenAI client the analyzer needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type TopicAreaResult struct {
	Name        string `json:"name" description:"broadest level, e.g. Software"`
	Category    string `json:"category"`
	Subject     string `json:"subject"`
	Topic       string `json:"topic"`
	Subtopic    string `json:"subtopic"`
	Niche       string `json:"niche"`
	Description string `json:"description"`
}

// AnalysisResult is the structured output requested from the model.
type AnalysisResult struct {
	Title                 string            `json:"title"`
	ExtremelyShortSummary string            `json:"extremely_short_summary"`
	ShortSummary          string            `json:"short_summary"`
	Highlights            []string          `json:"highlights"`
	DetailedSummary       string            `json:"detailed_summary"`
	TopicAreas            []TopicAreaResult `json:"topic_areas"`
	Tags                  []string          `json:"tags" description:"hashtags in lower kebab case"`
}

// ToAnalysis converts the result into the stored form with normalized tags.
func (r *AnalysisResult) ToAnalysis(key models.Key, route, model string, chunks int) *models.AiAnalysis {
	a := &models.AiAnalysis{
		OwnerKind:             key.Kind,
		OwnerID:               key.ID,
		Route:                 route,
		Title:                 strings.TrimSpace(r.Title),
		ExtremelyShortSummary: strings.TrimSpace(r.ExtremelyShortSummary),
		ShortSummary:          strings.TrimSpace(r.ShortSummary),
		DetailedSummary:       strings.TrimSpace(r.DetailedSummary),
		Highlights:            r.Highlights,
		Tags:                  models.NormalizeTags(r.Tags),
		Model:                 model,
		Chunks:                chunks,
	}
	for _, t := range r.TopicAreas {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		a.TopicAreas = append(a.TopicAreas, models.TopicArea{
			Name:        strings.TrimSpace(t.Name),
			Category:    strings.TrimSpace(t.Category),
			Subject:     strings.TrimSpace(t.Subject),
			Topic:       strings.TrimSpace(t.Topic),
			Subtopic:    strings.TrimSpace(t.Subtopic),
			Niche:       strings.TrimSpace(t.Niche),
			Description: strings.TrimSpace(t.Description),
		})
	}
	return a
}

// Analyzer runs chunked JSON-schema completions against an OpenAI compatible API.
type Analyzer struct {
	client      ChatCompleter
	tokenizer   Tokenizer
	model       string
	budget      int
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

type AnalyzerConfig struct {
	Model       string
	TokenBudget int
	MaxTokens   int
	Temperature float64
}

// NewOpenAIClient builds the go-openai client, pointing at baseURL when set.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewAnalyzer(client ChatCompleter, tokenizer Tokenizer, cfg AnalyzerConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		client:      client,
		tokenizer:   tokenizer,
		model:       cfg.Model,
		budget:      cfg.TokenBudget,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (a *Analyzer) Model() string {
	return a.model
}

// Analyze implements UnitAnalyzer.
func (a *Analyzer) Analyze(ctx context.Context, systemPrompt, text string) (*AnalysisResult, int, error) {
	return AnalyzeText[AnalysisResult](ctx, a, systemPrompt, text)
}

// AnalyzeText sends text chunk by chunk and returns the result of the last
// chunk. Every chunk after the first carries the previous result as context,
// so the requests of one text are strictly sequential.
func AnalyzeText[T any](ctx context.Context, a *Analyzer, systemPrompt, text string) (*T, int, error) {
	chunks := Chunk(a.tokenizer, text, a.budget)
	if len(chunks) == 0 {
		return nil, 0, ErrEmptyText
	}

	var zero T
	schema, err := jsonschema.GenerateSchemaForType(zero)
	if err != nil {
		return nil, 0, fmt.Errorf("generate schema: %w", err)
	}
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   "analysis",
			Schema: schema,
			Strict: true,
		},
	}

	system := systemPrompt
	if len(chunks) > 1 {
		system += "\n\n" + chunkedNotice
	}

	var prev *T
	for i, chunk := range chunks {
		user := chunk
		if len(chunks) > 1 {
			var b strings.Builder
			fmt.Fprintf(&b, "here is chunk %d of %d\n\n", i+1, len(chunks))
			if prev != nil {
				prevJSON, err := json.Marshal(prev)
				if err != nil {
					return nil, i, fmt.Errorf("encode previous result: %w", err)
				}
				fmt.Fprintf(&b, "analysis of the previous chunks:\n%s\n\n", prevJSON)
			}
			b.WriteString(chunk)
			user = b.String()
		}

		result, err := complete[T](ctx, a, format, system, user)
		if err != nil {
			return nil, i, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		prev = result

		a.logger.Debug("Analyzed chunk",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)))
	}
	return prev, len(chunks), nil
}

// complete issues one request. A reply that does not decode is sent back once
// together with the parse error.
func complete[T any](ctx context.Context, a *Analyzer, format *openai.ChatCompletionResponseFormat, system, user string) (*T, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}

	content, err := a.request(ctx, format, messages)
	if err != nil {
		return nil, err
	}
	var result T
	decodeErr := json.Unmarshal([]byte(content), &result)
	if decodeErr == nil {
		return &result, nil
	}

	a.logger.Warn("Failed to parse model response, retrying",
		zap.Error(decodeErr),
		zap.String("response", content))

	messages = append(messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("Your previous reply could not be parsed: %v. Reply again with only the JSON object.", decodeErr),
		},
	)
	content, err = a.request(ctx, format, messages)
	if err != nil {
		return nil, err
	}
	result = *new(T)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &result, nil
}

func (a *Analyzer) request(ctx context.Context, format *openai.ChatCompletionResponseFormat, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          a.model,
		Messages:       messages,
		MaxTokens:      a.maxTokens,
		Temperature:    float32(a.temperature),
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return stripFence(resp.Choices[0].Message.Content), nil
}

// stripFence removes a ```json fence some local models wrap around JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
