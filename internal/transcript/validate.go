package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedInput означает, что вход вообще не является JSON-массивом:
// синтаксически битый текст либо значение другого типа на верхнем уровне.
var ErrMalformedInput = errors.New("chat history must be a JSON array")

// InvalidShapeError — запись истории не является объектом с текстовыми полями.
type InvalidShapeError struct {
	Index int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("message %d must be an object with string fields", e.Index)
}

// MissingFieldError — в записи нет обязательного поля role или content.
type MissingFieldError struct {
	Index int
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("message %d is missing required field %q", e.Index, e.Field)
}

// InvalidRoleError — роль записи вне набора system/user/assistant.
type InvalidRoleError struct {
	Index int
	Role  string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("message %d has invalid role %q, must be one of system, user, assistant", e.Index, e.Role)
}

// Parse разбирает внешнюю сериализованную историю диалога.
// Пустой или состоящий из пробелов вход — это «истории ещё нет»: возвращается
// пустая история без ошибки. Непустой вход обязан быть JSON-массивом объектов
// с полями role и content. Проверяется форма, а не осмысленность диалога:
// несколько system-реплик или assistant раньше user — допустимый вход.
// Проверка прерывается на первой невалидной записи, её индекс попадает в ошибку.
func Parse(raw string) (Transcript, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Transcript{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if items == nil {
		// JSON null проходит Unmarshal без ошибки
		return nil, ErrMalformedInput
	}

	out := make(Transcript, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, &InvalidShapeError{Index: i}
		}

		rawRole, ok := fields["role"]
		if !ok {
			return nil, &MissingFieldError{Index: i, Field: "role"}
		}
		rawContent, ok := fields["content"]
		if !ok {
			return nil, &MissingFieldError{Index: i, Field: "content"}
		}

		var role string
		if err := json.Unmarshal(rawRole, &role); err != nil {
			// Роль не строка — показываем значение как есть
			return nil, &InvalidRoleError{Index: i, Role: string(rawRole)}
		}
		if !Role(role).Valid() {
			return nil, &InvalidRoleError{Index: i, Role: role}
		}

		var content string
		if err := json.Unmarshal(rawContent, &content); err != nil {
			return nil, &InvalidShapeError{Index: i}
		}

		out = append(out, Message{Role: Role(role), Content: content})
	}
	return out, nil
}
