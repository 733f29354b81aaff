package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xaenox/soullink/internal/models"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one chat message sent to the model.
type Turn struct {
	Role    Role
	Content string
}

// HistoryTurns converts stored conversation messages to chat turns.
func HistoryTurns(messages []models.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := RoleUser
		if m.Sender == models.SenderAI {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns
}

// Request is one chat completion. Zero MaxTokens and Temperature use the
// client defaults.
type Request struct {
	Turns       []Turn
	MaxTokens   int
	Temperature float32
}

// Collaborator is the external chat-completion service.
type Collaborator interface {
	Complete(ctx context.Context, creds Credentials, req Request) (string, error)
}

type ClientConfig struct {
	BaseURL           string
	DefaultModel      string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	RetryBackoff      time.Duration
	Language          Language
}

var errEmptyResponse = errors.New("empty response from model")

// OpenAIClient talks to any OpenAI-compatible endpoint. Each call builds a
// client for the caller's credentials; requests are throttled by a shared
// limiter and transport failures are retried with exponential backoff.
type OpenAIClient struct {
	cfg        ClientConfig
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAIClient(cfg ClientConfig, logger *zap.Logger) *OpenAIClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	return &OpenAIClient{
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, creds Credentials, req Request) (string, error) {
	if !creds.Configured() {
		return "", NewAPIError(CodeNotConfigured, c.cfg.Language, nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", NewAPIError(CodeTransport, c.cfg.Language, err)
	}

	client := openai.NewClientWithConfig(c.clientConfig(creds))
	chatReq := c.chatRequest(creds, req)

	var text string
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := client.CreateChatCompletion(callCtx, chatReq)
		if err != nil {
			apiErr := classifyError(err, c.cfg.Language)
			if apiErr.Code != CodeTransport {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(NewAPIError(CodeTransport, c.cfg.Language, errEmptyResponse))
		}
		text = resp.Choices[0].Message.Content
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBackoff
	exp.Multiplier = 2
	exp.Reset()

	var policy backoff.BackOff = exp
	if c.cfg.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.logger.Warn("Retrying chat completion",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		c.logger.Error("Failed to get chat completion",
			zap.String("model", chatReq.Model),
			zap.Error(err))
		return "", classifyError(err, c.cfg.Language)
	}
	return text, nil
}

func (c *OpenAIClient) clientConfig(creds Credentials) openai.ClientConfig {
	cfg := openai.DefaultConfig(creds.APIKey)
	if endpoint := firstNonEmpty(creds.Endpoint, c.cfg.BaseURL); endpoint != "" {
		cfg.BaseURL = endpoint
	}
	cfg.HTTPClient = c.httpClient
	return cfg
}

func (c *OpenAIClient) chatRequest(creds Credentials, req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, turn := range req.Turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = float32(c.cfg.Temperature)
	}

	return openai.ChatCompletionRequest{
		Model:       firstNonEmpty(creds.Model, c.cfg.DefaultModel),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
