package ai

import (
	"LlamaLiteClient/internal/transcript"
	"context"
)

// ChatRequest описывает один обмен: системная инструкция, накопленная история,
// текущая реплика пользователя и подготовленные data URL изображений.
type ChatRequest struct {
	SystemPrompt string
	History      transcript.Transcript
	Prompt       string
	ImageURLs    []string
}

// Client интерфейс для взаимодействия с сервером инференса. Все реализации должны быть взаимозаменяемыми.
type Client interface {
	// Chat выполняет один запрос chat/completions и возвращает разобранное тело ответа.
	Chat(ctx context.Context, req ChatRequest) (*transcript.Completion, error)
}
