package server

import (
	"LlamaLiteClient/internal/config"
	"LlamaLiteClient/internal/service"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Exchanger проводит один обмен с сервером инференса.
type Exchanger interface {
	Execute(ctx context.Context, in service.ChatInput) service.ChatOutput
}

// chatRequest тело POST /v1/chat. Изображения принимаются как base64 или data URL.
// Пустые server_url и system_prompt заполняются значениями из конфигурации.
type chatRequest struct {
	ServerURL    string   `json:"server_url"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt"`
	ChatHistory  string   `json:"chat_history"`
	Images       []string `json:"images"`
}

// chatResponse пара результата обмена. Сбои обмена приходят в той же паре
// с префиксом "Error: " и кодом 200, наружу они не распространяются.
type chatResponse struct {
	ResponseMessage string `json:"response_message"`
	ChatHistory     string `json:"chat_history"`
}

type NodeServer struct {
	cfg     *config.Config
	node    Exchanger
	srv     *http.Server
	logger  *zap.SugaredLogger
	running atomic.Bool
}

func NewNodeServer(cfg *config.Config, node Exchanger, logger *zap.SugaredLogger) *NodeServer {
	if cfg.NodeServer.BindAddr == "" {
		cfg.NodeServer.BindAddr = "127.0.0.1:8190"
	}
	s := &NodeServer{cfg: cfg, node: node, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/session", s.handleSession)

	s.srv = &http.Server{
		Addr:              cfg.NodeServer.BindAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Ответ ждёт генерацию модели, лимит на запись не ставим.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *NodeServer) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		s.logger.Infow("NodeServer listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("NodeServer stopped with error", "error", err)
		} else {
			s.logger.Infow("NodeServer stopped")
		}
	}()

	// Watch for context cancellation to stop the server
	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *NodeServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("node-server shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

func (s *NodeServer) Addr() string { return s.cfg.NodeServer.BindAddr }

func (s *NodeServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed; use POST", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	images, err := decodeImagePayloads(req.Images)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Infow("Запрос /v1/chat",
		"remote", r.RemoteAddr,
		"prompt_len", len(req.Prompt),
		"images", len(images),
	)

	out := s.node.Execute(r.Context(), service.ChatInput{
		ServerURL:    s.orDefault(req.ServerURL, s.cfg.ServerURL),
		Prompt:       req.Prompt,
		SystemPrompt: s.orDefault(req.SystemPrompt, s.cfg.SystemPrompt),
		ChatHistory:  req.ChatHistory,
		Images:       images,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{
		ResponseMessage: out.ResponseMessage,
		ChatHistory:     out.ChatHistory,
	}); err != nil {
		s.logger.Warnw("Не удалось записать ответ", "error", err)
	}
}

// authorized проверяет Bearer-токен, если он задан в конфигурации.
func (s *NodeServer) authorized(r *http.Request) bool {
	token := s.cfg.NodeServer.AuthToken
	if token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+token
}

func (s *NodeServer) orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// decodeImagePayloads превращает элементы images в сырые байты.
// Поддерживаются чистый base64 и data URL вида data:<mime>;base64,<payload>.
func decodeImagePayloads(entries []string) ([][]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	images := make([][]byte, 0, len(entries))
	for i, entry := range entries {
		payload := entry
		if strings.HasPrefix(entry, "data:") {
			idx := strings.Index(entry, ";base64,")
			if idx < 0 {
				return nil, fmt.Errorf("image %d: data URL without base64 payload", i+1)
			}
			payload = entry[idx+len(";base64,"):]
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("image %d: invalid base64: %v", i+1, err)
		}
		images = append(images, raw)
	}
	return images, nil
}
