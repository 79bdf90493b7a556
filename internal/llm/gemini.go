package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/squidbot/squidbot/pkg/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures one Gemini endpoint.
type GeminiConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiClient streams completions from the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

// NewGeminiClient creates a Gemini adapter.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
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

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (c *GeminiClient) Model() string { return c.model }

// Chat implements Client. The stream iterator is lazy, so retries wrap
// whole attempts, but only while nothing has been delivered yet.
func (c *GeminiClient) Chat(ctx context.Context, req Request) (<-chan Chunk, error) {
	contents, config := c.buildRequest(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var lastErr error
		for attempt := 0; ; attempt++ {
			delivered, err := c.streamOnce(ctx, contents, config, chunks)
			if err == nil {
				send(ctx, chunks, Chunk{Done: true})
				return
			}

			lastErr = wrapErr("gemini", c.model, err)
			if delivered || !Classify(lastErr).Retryable() {
				send(ctx, chunks, Chunk{Err: lastErr})
				return
			}
			if attempt >= c.maxRetries {
				send(ctx, chunks, Chunk{Err: fmt.Errorf("gemini: max retries exceeded: %w", lastErr)})
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

// streamOnce runs one streaming attempt, reporting whether any output
// reached the channel. Gemini sends function call arguments whole, not
// as deltas, and provides no call IDs, so IDs are generated here.
func (c *GeminiClient) streamOnce(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- Chunk) (bool, error) {
	delivered := false
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			return delivered, err
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					delivered = true
					if !send(ctx, chunks, Chunk{Text: part.Text}) {
						return delivered, ctx.Err()
					}
				}
				if part.FunctionCall != nil {
					raw, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						raw = []byte("{}")
					}
					tc := &models.ToolCall{
						ID:   geminiCallID(part.FunctionCall.Name),
						Name: part.FunctionCall.Name,
					}
					finalizeToolCall(tc, string(raw))
					delivered = true
					if !send(ctx, chunks, Chunk{ToolCall: tc}) {
						return delivered, ctx.Err()
					}
				}
			}
		}
	}
	return delivered, nil
}

func (c *GeminiClient) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, rest := splitSystem(req.Messages)

	// Maps streamed call IDs back to function names for result parts.
	callNames := make(map[string]string)

	var contents []*genai.Content
	for _, msg := range rest {
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleUser:
			content.Role = genai.RoleUser
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		case models.RoleTool:
			// Function responses come from the user side.
			content.Role = genai.RoleUser
		default:
			continue
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     callNames[msg.ToolCallID],
					Response: response,
				},
			})
		} else {
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: call.Name,
						Args: args,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	// #nosec G115 -- bounded by min below
	config.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))
	config.Tools = geminiTools(req.Tools)

	return contents, config
}

func geminiTools(defs []models.ToolDefinition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  geminiSchema(def.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON-schema-shaped map to Gemini's Schema type.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	schema.Enum = stringList(schemaMap["enum"])
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	schema.Required = stringList(schemaMap["required"])
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

// stringList accepts both the []string shape Go-defined schemas use and
// the []any shape JSON decoding produces.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		var out []string
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// geminiCallID generates an ID for a function call, since Gemini does
// not supply one.
func geminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}
