package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/squidbot/squidbot/pkg/models"
)

const defaultBedrockModel = "anthropic.claude-sonnet-4-20250514-v1:0"

// BedrockConfig configures one AWS Bedrock endpoint. Credentials fall
// back to the default AWS chain when not set explicitly.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	MaxTokens       int
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockClient streams completions through the Bedrock Converse API.
type BedrockClient struct {
	client     *bedrockruntime.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

// NewBedrockClient creates a Bedrock adapter.
func NewBedrockClient(cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultBedrockModel
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

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), options...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockClient{
		client:     bedrockruntime.NewFromConfig(awsCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (c *BedrockClient) Model() string { return c.model }

// Chat implements Client. ConverseStream performs the request, so the
// retry loop wraps it; once the event stream is open failures are
// reported in-band.
func (c *BedrockClient) Chat(ctx context.Context, req Request) (<-chan Chunk, error) {
	input := c.buildInput(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; ; attempt++ {
			out, err := c.client.ConverseStream(ctx, input)
			if err == nil {
				c.processStream(ctx, out, chunks)
				return
			}

			lastErr = wrapErr("bedrock", c.model, err)
			if !Classify(lastErr).Retryable() {
				send(ctx, chunks, Chunk{Err: lastErr})
				return
			}
			if attempt >= c.maxRetries {
				send(ctx, chunks, Chunk{Err: fmt.Errorf("bedrock: max retries exceeded: %w", lastErr)})
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

// processStream consumes Converse events. Tool use arrives as a start
// block with ID and name followed by input JSON deltas, closed by a
// block stop.
func (c *BedrockClient) processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- Chunk) {
	eventStream := out.GetStream()
	defer eventStream.Close()

	var current *models.ToolCall
	var input strings.Builder

	for {
		select {
		case <-ctx.Done():
			send(ctx, chunks, Chunk{Err: ctx.Err()})
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				if err := eventStream.Err(); err != nil {
					send(ctx, chunks, Chunk{Err: wrapErr("bedrock", c.model, err)})
				} else {
					send(ctx, chunks, Chunk{Done: true})
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					current = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					input.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						if !send(ctx, chunks, Chunk{Text: delta.Value}) {
							return
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						input.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if current != nil && current.ID != "" {
					finalizeToolCall(current, input.String())
					if !send(ctx, chunks, Chunk{ToolCall: current}) {
						return
					}
					current = nil
					input.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				send(ctx, chunks, Chunk{Done: true})
				return
			}
		}
	}
}

func (c *BedrockClient) buildInput(req Request) *bedrockruntime.ConverseStreamInput {
	system, rest := splitSystem(req.Messages)

	messages := make([]types.Message, 0, len(rest))
	for _, msg := range rest {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch msg.Role {
		case models.RoleUser:
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
		case models.RoleTool:
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: msg.Content},
					},
				},
			})
		default:
			continue
		}

		if len(content) > 0 {
			messages = append(messages, types.Message{Role: role, Content: content})
		}
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: messages,
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		// #nosec G115 -- bounded by min below
		MaxTokens: aws.Int32(int32(min(maxTokens, math.MaxInt32))),
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockTools(req.Tools)
	}
	return input
}

func bedrockTools(defs []models.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, len(defs))
	for i, def := range defs {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: tools}
}
