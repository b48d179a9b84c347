package transcript

import "encoding/json"

// Role — роль автора реплики в диалоге.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid сообщает, входит ли роль в допустимый набор.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message — одна реплика диалога: роль и текст.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript — упорядоченная история диалога; индекс 0 — самая ранняя реплика.
// Значение живёт в рамках одного обмена: компонент не хранит состояние между
// вызовами, непрерывность переносит вызывающий в виде сериализованной строки.
type Transcript []Message

// Serialize возвращает историю как JSON-массив с отступом в два пробела.
// Пустая (в том числе nil) история сериализуется в "[]", а не в null.
func (t Transcript) Serialize() (string, error) {
	if len(t) == 0 {
		return "[]", nil
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
