package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"orgai/services/chat-api/internal/domain/chat"
	"orgai/services/chat-api/internal/domain/conversation"
	"orgai/services/chat-api/internal/domain/pricing"
)

const titleInstructions = "Generate a very short title, at most six words, " +
	"for a conversation that starts with the following message. " +
	"Reply with the title only, no quotes."

// webSearchTool names the provider-side search in tool events.
const webSearchTool = "web_search"

// searchSuffix selects a model's search preview variant. Those variants run
// the completion with provider-side web search, billed per request.
const searchSuffix = "-search-preview"

// Client adapts the OpenAI API to the chat.CompletionStreamer contract.
type Client struct {
	api     *openai.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient builds a streaming client. baseURL may be empty to use the
// provider default.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		timeout: timeout,
		logger:  logger,
	}
}

// Moderations exposes the provider moderation endpoint.
func (c *Client) Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error) {
	return c.api.Moderations(ctx, request)
}

// Stream runs a streamed chat completion, forwarding text deltas and tool
// activity into sink. Usage accounting is requested on the final chunk. Web
// search routes the call through the model's search preview variant. A
// stream that ends without a finish reason or the usage chunk is a dropped
// connection and reported as an error, never as a completion.
func (c *Client) Stream(ctx context.Context, req chat.CompletionRequest, sink chat.Sink) (chat.StreamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.ReasoningEffort != "" {
		request.ReasoningEffort = req.ReasoningEffort
	}
	if req.WebSearchEnabled {
		request.Model = searchModel(req.Model)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return chat.StreamResult{}, classifyError(err)
	}
	defer stream.Close()

	var (
		text        strings.Builder
		usage       pricing.Usage
		webSearches int64
		filtered    bool
		terminal    bool
		toolOpen    string
	)

	if req.WebSearchEnabled {
		toolOpen = webSearchTool
		webSearches = 1
		sink(chat.Event{Type: chat.EventToolStarted, Tool: webSearchTool})
	}

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return chat.StreamResult{}, classifyError(recvErr)
		}

		if chunk.Usage != nil {
			usage = usageFromAPI(chunk.Usage)
			terminal = true
		}

		for _, choice := range chunk.Choices {
			switch choice.FinishReason {
			case "", openai.FinishReasonNull:
			case openai.FinishReasonContentFilter:
				filtered = true
				terminal = true
			default:
				terminal = true
			}

			for _, tc := range choice.Delta.ToolCalls {
				name := tc.Function.Name
				if name == "" {
					continue
				}
				if toolOpen != "" && toolOpen != name {
					sink(chat.Event{Type: chat.EventToolCompleted, Tool: toolOpen})
				}
				if toolOpen != name {
					toolOpen = name
					if name == webSearchTool {
						webSearches++
					}
					sink(chat.Event{Type: chat.EventToolStarted, Tool: name})
				}
			}

			if choice.Delta.Content != "" {
				if toolOpen != "" {
					sink(chat.Event{Type: chat.EventToolCompleted, Tool: toolOpen})
					toolOpen = ""
				}
				text.WriteString(choice.Delta.Content)
				sink(chat.Event{Type: chat.EventTextDelta, Text: choice.Delta.Content})
			}
		}
	}

	// Recv returns io.EOF both for the DONE terminator and for an abrupt
	// server close. Only the former follows a finish reason or the usage
	// chunk.
	if !terminal {
		return chat.StreamResult{}, fmt.Errorf("stream closed before completion")
	}

	if toolOpen != "" {
		sink(chat.Event{Type: chat.EventToolCompleted, Tool: toolOpen})
	}

	usage.WebSearches = webSearches
	result := chat.StreamResult{Text: text.String(), Usage: usage}
	if filtered {
		return result, chat.ErrContentFiltered
	}
	return result, nil
}

// searchModel maps a model onto its search preview variant.
func searchModel(model string) string {
	if strings.HasSuffix(model, searchSuffix) {
		return model
	}
	return model + searchSuffix
}

// Summarise asks a small model for a conversation title.
func (c *Client) Summarise(ctx context.Context, model, message string) (string, pricing.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleInstructions},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		return "", pricing.Usage{}, fmt.Errorf("summarise: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", pricing.Usage{}, fmt.Errorf("summarise: empty response")
	}

	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	title = strings.Trim(title, `"`)

	return title, usageFromAPI(&resp.Usage), nil
}

// buildMessages converts preset instructions and the transcript into
// provider messages. Image attachments become image URL parts.
func buildMessages(req chat.CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		if len(turn.Images) == 0 {
			messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
			continue
		}

		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: turn.Text}}
		for _, img := range turn.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}

	return messages
}

// usageFromAPI maps provider usage onto billable units. Cached prompt
// tokens are reported inside PromptTokens, so they are split out here.
func usageFromAPI(u *openai.Usage) pricing.Usage {
	usage := pricing.Usage{
		PromptTokens:     int64(u.PromptTokens),
		CompletionTokens: int64(u.CompletionTokens),
	}
	if u.PromptTokensDetails != nil {
		cached := int64(u.PromptTokensDetails.CachedTokens)
		usage.CachedPromptTokens = cached
		usage.PromptTokens -= cached
		if usage.PromptTokens < 0 {
			usage.PromptTokens = 0
		}
	}
	return usage
}

// classifyError maps provider 400s onto the content filter sentinel. The
// provider rejects prompts its own filter will not serve with a 400.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %s", chat.ErrContentFiltered, apiErr.Message)
	}
	return err
}
