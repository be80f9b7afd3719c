// Package openai wraps the model service behind a streaming interface. The
// caller receives text deltas incrementally; when the model stops to invoke
// tools, the accumulated tool calls are returned so the orchestrator can
// execute them and continue the stream.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/finclaw/agentd/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the model used when none is configured
const DefaultModel = "gpt-4o"

// ErrNoAPIKey is returned when the model service API key is not set
var ErrNoAPIKey = errors.New("OPENAI_API_KEY not configured")

// ToolDefinition describes one callable tool exposed to the model
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Turn is one message of conversation history handed to the model
type Turn struct {
	Role       domain.MessageRole
	Content    string
	ToolCalls  []domain.ToolCall
	ToolCallID string
}

// ChatRequest describes one streaming model invocation
type ChatRequest struct {
	Model    string
	System   string
	Messages []Turn
	Tools    []ToolDefinition
}

// StreamResult is the outcome of one model stream. ToolCalls is non-empty
// when the model stopped to invoke tools instead of finishing its reply.
type StreamResult struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// ChatStream yields incremental completion chunks
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ChatAPI defines the interface for the streaming completions call
type ChatAPI interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// OpenAIAdapter wraps the go-openai client
type OpenAIAdapter struct {
	client *openai.Client
}

func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClient(apiKey)}
}

func (a *OpenAIAdapter) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	return a.client.CreateChatCompletionStream(ctx, req)
}

// Client drives streaming chat completions with tool support
type Client struct {
	api   ChatAPI
	model string
}

// NewClient creates a new model service client
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{api: NewOpenAIAdapter(apiKey), model: model}
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// StreamChat runs one streaming completion. Text deltas are delivered to
// onDelta as they arrive; onDelta returning an error cancels consumption
// (caller disconnect). Tool-call deltas are accumulated and returned in the
// result rather than streamed.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onDelta func(string) error) (*StreamResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildMessages(req),
		Tools:    buildTools(req.Tools),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start model stream: %w", err)
	}
	defer stream.Close()

	result := &StreamResult{}
	pending := map[int]*domain.ToolCall{}
	pendingArgs := map[int]string{}
	maxIndex := -1

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("model stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			result.Content += delta.Content
			if onDelta != nil {
				if err := onDelta(delta.Content); err != nil {
					return nil, err
				}
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := pending[index]
			if !ok {
				call = &domain.ToolCall{}
				pending[index] = call
			}
			if index > maxIndex {
				maxIndex = index
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			pendingArgs[index] += tc.Function.Arguments
		}
	}

	for i := 0; i <= maxIndex; i++ {
		call, ok := pending[i]
		if !ok {
			continue
		}
		call.Arguments = json.RawMessage(pendingArgs[i])
		result.ToolCalls = append(result.ToolCalls, *call)
	}

	return result, nil
}

func buildMessages(req ChatRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, turn := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		messages = append(messages, msg)
	}

	return messages
}

func buildTools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return tools
}
