package ai

import (
	"LlamaLiteClient/internal/transcript"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// LlamaClient отправляет диалог на OpenAI-совместимый сервер llama.cpp
// через endpoint chat/completions.
type LlamaClient struct {
	client *openai.Client
	model  string
	logger *zap.SugaredLogger
}

// NewLlamaClient создаёт клиента, привязанного к конкретному serverURL.
// Повторы запросов в SDK отключены: неудачный запрос сразу отдаёт ошибку вызывающему.
func NewLlamaClient(serverURL, apiKey, model string, timeout time.Duration, logger *zap.SugaredLogger) *LlamaClient {
	c := openai.NewClient(
		option.WithBaseURL(serverURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &LlamaClient{client: &c, model: model, logger: logger}
}

// Chat собирает сообщения в порядке system -> история -> текущая реплика
// и выполняет один запрос. Тело ответа разбирается один раз в явную форму,
// дальше с ним работает слой транскрипта.
func (c *LlamaClient) Chat(ctx context.Context, req ChatRequest) (*transcript.Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if st := strings.TrimSpace(req.SystemPrompt); st != "" {
		messages = append(messages, openai.SystemMessage(st))
	}
	for _, m := range req.History {
		switch m.Role {
		case transcript.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case transcript.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, userTurn(req.Prompt, req.ImageURLs))

	start := time.Now()
	c.logger.Infow("Запрос в llama.cpp...", "model", c.model, "messages", len(messages))
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	dur := time.Since(start)
	if err != nil {
		c.logger.Errorw("Ошибка ответа llama.cpp", "duration", dur.String(), "error", err)
		return nil, err
	}
	c.logger.Infow("Ответ llama.cpp получен", "duration", dur.String())

	return transcript.DecodeCompletion([]byte(resp.RawJSON()))
}

// userTurn строит текущую реплику пользователя: только текст либо текст с изображениями.
func userTurn(text string, imageURLs []string) openai.ChatCompletionMessageParamUnion {
	if len(imageURLs) == 0 {
		return openai.UserMessage(text)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(imageURLs)+1)
	parts = append(parts, openai.TextContentPart(text))
	for _, u := range imageURLs {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: u,
		}))
	}
	return openai.UserMessage(parts)
}
