package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/squidbot/squidbot/pkg/models"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096

	// maxEmptyStreamEvents bounds consecutive events that produce no
	// output before the stream is treated as malformed.
	maxEmptyStreamEvents = 300
)

// AnthropicConfig configures one Anthropic endpoint.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	client     anthropic.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

// NewAnthropicClient creates an Anthropic adapter.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
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

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:     anthropic.NewClient(options...),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (c *AnthropicClient) Model() string { return c.model }

// Chat implements Client. Transient failures before the first event are
// retried with exponential backoff; anything after the first event is
// reported, not retried.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; ; attempt++ {
			stream := c.client.Messages.NewStreaming(ctx, params)
			if stream.Next() {
				c.processStream(ctx, stream, chunks)
				return
			}
			err := stream.Err()
			if err == nil {
				// Empty but clean stream.
				send(ctx, chunks, Chunk{Done: true})
				return
			}

			lastErr = wrapErr("anthropic", c.model, err)
			if !Classify(lastErr).Retryable() {
				send(ctx, chunks, Chunk{Err: lastErr})
				return
			}
			if attempt >= c.maxRetries {
				send(ctx, chunks, Chunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)})
				return
			}
			backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
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

// processStream converts Anthropic SSE events into chunks. The stream's
// first event has already been read by the caller.
func (c *AnthropicClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk) {
	var toolCall *models.ToolCall
	var toolInput strings.Builder
	emptyEvents := 0

	for {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, chunks, Chunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if toolCall != nil {
				finalizeToolCall(toolCall, toolInput.String())
				if !send(ctx, chunks, Chunk{ToolCall: toolCall}) {
					return
				}
				toolCall = nil
				processed = true
			}

		case "message_delta":
			processed = true

		case "message_stop":
			send(ctx, chunks, Chunk{Done: true})
			return

		case "error":
			send(ctx, chunks, Chunk{Err: wrapErr("anthropic", c.model, errors.New("stream error event"))})
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				send(ctx, chunks, Chunk{Err: wrapErr("anthropic", c.model,
					fmt.Errorf("malformed stream: %d consecutive empty events", emptyEvents))})
				return
			}
		}

		if !stream.Next() {
			break
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, Chunk{Err: wrapErr("anthropic", c.model, err)})
	}
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	system, rest := splitSystem(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  anthropicMessages(rest),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// anthropicMessages converts conversation messages to Anthropic content
// blocks. Tool results become user-role tool_result blocks; history-only
// tool event records are never sent to the API.
func anthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}

		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		}
	}
	return result
}

func anthropicTools(defs []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		raw, err := json.Marshal(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
