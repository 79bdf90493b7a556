package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/squidbot/squidbot/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures one OpenAI-compatible chat endpoint. BaseURL
// selects the backend: empty for api.openai.com, or an OpenRouter or
// Ollama endpoint. Provider labels errors and logs for that backend.
type OpenAIConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIClient streams completions from an OpenAI-compatible chat API.
type OpenAIClient struct {
	client     *openai.Client
	provider   string
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIClient creates an adapter for OpenAI, OpenRouter, or any other
// endpoint speaking the OpenAI chat protocol. Local endpoints such as
// Ollama accept any key, so the key is only required when no BaseURL
// override is given.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "openai"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.APIKey == "" && baseURL == "" {
		return nil, fmt.Errorf("%s: API key is required", provider)
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// go-openai refuses to send requests without a bearer token.
		apiKey = "unused"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		provider:   provider,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (c *OpenAIClient) Model() string { return c.model }

// Chat implements Client. CreateChatCompletionStream performs the HTTP
// request, so the retry loop wraps it directly; once the stream is open
// failures are reported in-band without retry.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq := c.buildRequest(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; ; attempt++ {
			stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
			if err == nil {
				c.processStream(ctx, stream, chunks)
				return
			}

			lastErr = wrapErr(c.provider, c.model, err)
			if !Classify(lastErr).Retryable() {
				send(ctx, chunks, Chunk{Err: lastErr})
				return
			}
			if attempt >= c.maxRetries {
				send(ctx, chunks, Chunk{Err: fmt.Errorf("%s: max retries exceeded: %w", c.provider, lastErr)})
				return
			}
			backoff := c.retryDelay * time.Duration(attempt+1)
			select {
			case <-ctx.Done():
				send(ctx, chunks, Chunk{Err: ctx.Err()})
				return
			case <-time.After(backoff):
			}
		}
	}()
	return chunks, nil
}

// processStream consumes one streaming response. Tool calls arrive as
// fragments keyed by index: the first fragment carries ID and name, the
// rest extend the argument JSON. Completed calls are emitted in
// first-seen order on finish_reason "tool_calls" or at end of stream.
func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	args := make(map[int]*strings.Builder)
	var order []int

	flush := func() bool {
		for _, idx := range order {
			tc := pending[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			finalizeToolCall(tc, args[idx].String())
			if !send(ctx, chunks, Chunk{ToolCall: tc}) {
				return false
			}
		}
		pending = make(map[int]*models.ToolCall)
		args = make(map[int]*strings.Builder)
		order = order[:0]
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if flush() {
				send(ctx, chunks, Chunk{Done: true})
			}
			return
		}
		if err != nil {
			send(ctx, chunks, Chunk{Err: wrapErr(c.provider, c.model, err)})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, chunks, Chunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &models.ToolCall{}
				args[idx] = &strings.Builder{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			args[idx].WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

func (c *OpenAIClient) buildRequest(req Request) openai.ChatCompletionRequest {
	system, rest := splitSystem(req.Messages)

	messages := make([]openai.ChatCompletionMessage, 0, len(rest)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range rest {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			oai := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: callArguments(call),
					},
				})
			}
			if oai.Content == "" && len(oai.ToolCalls) == 0 {
				continue
			}
			messages = append(messages, oai)
		case models.RoleTool:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		default:
			// Internal history roles never reach the API.
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = c.maxTokens
	}
	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return chatReq
}

// callArguments renders a tool call's arguments back to the JSON string
// the API expects, preferring the bytes as originally streamed.
func callArguments(call models.ToolCall) string {
	if len(call.Raw) > 0 {
		return string(call.Raw)
	}
	if len(call.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(call.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}
