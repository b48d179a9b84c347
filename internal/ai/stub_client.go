package ai

import (
	"LlamaLiteClient/internal/transcript"
	"context"
)

// StubClient заглушка, которая не делает реальных запросов
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (c *StubClient) Chat(_ context.Context, _ ChatRequest) (*transcript.Completion, error) {
	text := "запрос получен"
	return &transcript.Completion{
		Model: "stub",
		Choices: []transcript.Choice{
			{Message: &transcript.ChoiceMessage{Role: "assistant", Content: &text}},
		},
	}, nil
}
