package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aide-chat/aide/internal/backoff"
	"github.com/aide-chat/aide/internal/observability"
	"github.com/aide-chat/aide/pkg/models"
)

// Config configures the chat-completions client.
type Config struct {
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Model is the default model when a request does not specify one.
	Model string

	// RequestTimeout bounds each attempt. Exceeding it is a retryable
	// transport error.
	RequestTimeout time.Duration

	// MaxAttempts is the retry budget per completion request.
	MaxAttempts int

	// Stream selects incremental delivery. When false, responses arrive as a
	// single chunk.
	Stream bool

	// Backoff is the retry delay policy. Zero value selects the default.
	Backoff backoff.Policy

	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// OpenAIClient is a Completer backed by an OpenAI-compatible chat-completions
// endpoint. Safe for concurrent use; each Complete call owns an independent
// stream and goroutine.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIClient builds a client from the given configuration.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transport: API key is required")
	}
	cfg = cfg.withDefaults()

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends the request and returns a chunk channel. Transient failures
// establishing the exchange are retried internally with backoff; the retry
// delay honors server-supplied hints and doubles for image-bearing requests.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	chatReq := c.buildRequest(req)

	policy := c.cfg.Backoff
	if req.HasImages() {
		policy = policy.Doubled()
	}

	if !c.cfg.Stream {
		return c.completeOnce(ctx, chatReq, policy)
	}
	return c.completeStreaming(ctx, chatReq, policy)
}

func (c *OpenAIClient) completeStreaming(ctx context.Context, chatReq openai.ChatCompletionRequest, policy backoff.Policy) (<-chan Chunk, error) {
	chatReq.Stream = true

	result, err := backoff.Retry(ctx, policy, c.cfg.MaxAttempts, IsRetryable,
		func(attempt int) (*openai.ChatCompletionStream, error) {
			if attempt > 1 {
				observability.TransportRetries.Inc()
				c.cfg.Logger.Warn("retrying completion request", "attempt", attempt, "model", chatReq.Model)
			}
			stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
			if err != nil {
				return nil, Classify(err)
			}
			return stream, nil
		})
	if err != nil {
		if errors.Is(err, backoff.ErrMaxAttemptsExhausted) && result.LastError != nil {
			err = result.LastError
		}
		return nil, fmt.Errorf("completion request failed after %d attempts: %w", result.Attempts, err)
	}

	chunks := make(chan Chunk)
	go c.pumpStream(ctx, result.Value, chunks)
	return chunks, nil
}

// pumpStream forwards raw deltas from the wire to the chunk channel. Tool
// call fragments pass through unassembled; reassembly belongs to the caller.
func (c *OpenAIClient) pumpStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: Classify(ctx.Err())}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- Chunk{Done: true}
				return
			}
			chunks <- Chunk{Err: Classify(err)}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			chunks <- Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			chunks <- Chunk{ToolDelta: &ToolCallDelta{
				Index: index,
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			}}
		}
	}
}

func (c *OpenAIClient) completeOnce(ctx context.Context, chatReq openai.ChatCompletionRequest, policy backoff.Policy) (<-chan Chunk, error) {
	result, err := backoff.Retry(ctx, policy, c.cfg.MaxAttempts, IsRetryable,
		func(attempt int) (openai.ChatCompletionResponse, error) {
			if attempt > 1 {
				observability.TransportRetries.Inc()
				c.cfg.Logger.Warn("retrying completion request", "attempt", attempt, "model", chatReq.Model)
			}
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return openai.ChatCompletionResponse{}, Classify(err)
			}
			return resp, nil
		})
	if err != nil {
		if errors.Is(err, backoff.ErrMaxAttemptsExhausted) && result.LastError != nil {
			err = result.LastError
		}
		return nil, fmt.Errorf("completion request failed after %d attempts: %w", result.Attempts, err)
	}

	chunks := make(chan Chunk, 2)
	go func() {
		defer close(chunks)
		resp := result.Value
		if len(resp.Choices) == 0 {
			chunks <- Chunk{Done: true}
			return
		}
		msg := resp.Choices[0].Message
		out := Chunk{Text: msg.Content}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
		chunks <- out
		chunks <- Chunk{Done: true}
	}()
	return chunks, nil
}

func (c *OpenAIClient) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Sampling.Temperature,
		TopP:        req.Sampling.TopP,
		Seed:        req.Sampling.Seed,
	}
	if req.Sampling.MaxTokens > 0 {
		chatReq.MaxTokens = req.Sampling.MaxTokens
	}
	for _, tool := range req.Tools {
		var params map[string]any
		if err := json.Unmarshal(tool.Schema, &params); err != nil {
			// One bad schema must not break function calling for the rest.
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return chatReq
}

func convertMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleUser:
			out = append(out, convertUserMessage(msg))
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, oaiMsg)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func convertUserMessage(msg *models.Message) openai.ChatCompletionMessage {
	if !msg.HasImages() {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: msg.Text(),
		}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case models.PartText:
			if p.Text != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			}
		case models.PartImage:
			if p.Image != nil {
				detail := openai.ImageURLDetailAuto
				if p.Image.Detail != "" {
					detail = openai.ImageURLDetail(p.Image.Detail)
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    p.Image.URL,
						Detail: detail,
					},
				})
			}
		}
	}
	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}
