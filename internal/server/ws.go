package server

import (
	"LlamaLiteClient/internal/service"
	"LlamaLiteClient/internal/transcript"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// sessionRequest один обмен внутри WebSocket-сессии. История не передаётся:
// её несёт само соединение.
type sessionRequest struct {
	ServerURL    string   `json:"server_url"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt"`
	Images       []string `json:"images"`
}

// Session держит сериализованную историю диалога между обменами одного подключения.
// Историю принимает только успешный обмен, поэтому пара с ошибкой не затирает
// контекст сессии.
type Session struct {
	ID       string
	history  string
	maxTurns int
}

// NewSession создаёт сессию с ограничением на число хранимых сообщений.
func NewSession(id string, maxTurns int) *Session {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &Session{ID: id, maxTurns: maxTurns}
}

// Adopt принимает сериализованную историю успешного обмена.
func (s *Session) Adopt(history string) {
	if s.maxTurns > 0 {
		if tr, err := transcript.Parse(history); err == nil && len(tr) > s.maxTurns {
			// Оставляем последние maxTurns сообщений
			tr = tr[len(tr)-s.maxTurns:]
			if out, serr := tr.Serialize(); serr == nil {
				history = out
			}
		}
	}
	s.history = history
}

// Current возвращает историю для следующего обмена; до первого обмена это пустой массив.
func (s *Session) Current() string {
	if s.history == "" {
		return "[]"
	}
	return s.history
}

// handleSession обслуживает WebSocket-сессию: каждый текстовый фрейм — один обмен.
func (s *NodeServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Не удалось открыть WebSocket", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	sess := NewSession(uuid.NewString(), s.cfg.NodeServer.SessionMaxTurns)
	log := s.logger.With("session", sess.ID)
	log.Infow("Сессия открыта", "remote", r.RemoteAddr)

	for {
		var req sessionRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				// Битый фрейм не закрывает сессию
				werr := conn.WriteJSON(chatResponse{
					ResponseMessage: "Error: invalid session frame: " + err.Error(),
					ChatHistory:     sess.Current(),
				})
				if werr == nil {
					continue
				}
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnw("Сессия прервана", "error", err)
			} else {
				log.Infow("Сессия закрыта")
			}
			return
		}

		resp := s.runSessionExchange(r, sess, req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warnw("Не удалось отправить ответ сессии", "error", err)
			return
		}
	}
}

// runSessionExchange проводит один обмен и принимает новую историю при успехе.
func (s *NodeServer) runSessionExchange(r *http.Request, sess *Session, req sessionRequest) chatResponse {
	images, err := decodeImagePayloads(req.Images)
	if err != nil {
		return chatResponse{ResponseMessage: "Error: " + err.Error(), ChatHistory: sess.Current()}
	}

	out := s.node.Execute(r.Context(), service.ChatInput{
		ServerURL:    s.orDefault(req.ServerURL, s.cfg.ServerURL),
		Prompt:       req.Prompt,
		SystemPrompt: s.orDefault(req.SystemPrompt, s.cfg.SystemPrompt),
		ChatHistory:  sess.Current(),
		Images:       images,
	})
	if out.Err == nil {
		sess.Adopt(out.ChatHistory)
	}
	return chatResponse{ResponseMessage: out.ResponseMessage, ChatHistory: out.ChatHistory}
}
