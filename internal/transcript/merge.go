package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidResponseShape — completion-эндпоинт вернул ответ неожиданной
// формы: без choices либо без текста сообщения в первом choice.
var ErrInvalidResponseShape = errors.New("invalid response from server")

// Completion — ответ chat/completions, декодированный один раз на границе
// транспорта. Указатели отличают отсутствующие поля от пустых значений,
// чтобы слияние проверяло форму явно, а не гадало по нулевым значениям.
type Completion struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// Choice — один вариант ответа модели.
type Choice struct {
	Index        int64          `json:"index"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Message      *ChoiceMessage `json:"message"`
}

// ChoiceMessage — сообщение внутри choice.
type ChoiceMessage struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content"`
}

// DecodeCompletion разбирает сырой JSON ответа эндпоинта.
func DecodeCompletion(data []byte) (*Completion, error) {
	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return &c, nil
}

// Merge извлекает текст первого choice и достраивает историю новой репликой
// ассистента. Текст возвращается без изменений: ни обрезки, ни перекодировки.
// Исходная история не мутируется и не переупорядочивается: возвращается новый
// срез, где первые N элементов совпадают с history, а в конец добавлена ровно
// одна реплика. Из отсутствующих данных ответ ассистента не выдумывается.
func Merge(history Transcript, comp *Completion) (string, Transcript, error) {
	if comp == nil || len(comp.Choices) == 0 {
		return "", nil, fmt.Errorf("%w: no choices found", ErrInvalidResponseShape)
	}
	first := comp.Choices[0]
	if first.Message == nil || first.Message.Content == nil {
		return "", nil, fmt.Errorf("%w: no message content found", ErrInvalidResponseShape)
	}

	text := *first.Message.Content
	updated := make(Transcript, len(history), len(history)+1)
	copy(updated, history)
	updated = append(updated, Message{Role: RoleAssistant, Content: text})
	return text, updated, nil
}
