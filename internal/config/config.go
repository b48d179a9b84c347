package config

import (
	"flag"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode bool `env:"DEBUG_MODE"` //Режим дебага: вместо реального сервера используется заглушка

	// Сервер llama.cpp
	ServerURL             string `env:"LLAMA_SERVER_URL"`        // Базовый URL OpenAI-совместимого сервера, напр. http://localhost:8080/v1
	APIKey                string `env:"LLAMA_API_KEY"`           // Ключ API; llama.cpp принимает заглушку
	Model                 string `env:"LLAMA_MODEL"`             // Имя модели, передаётся в каждом запросе
	SystemPrompt          string `env:"SYSTEM_PROMPT"`           // Системная инструкция по умолчанию
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS"` // Таймаут одного запроса, в секундах

	// Изображения
	MaxImages     int `env:"MAX_IMAGES"`      // Максимум изображений в одном обмене
	ImageMaxWidth int `env:"IMAGE_MAX_WIDTH"` // Ширина, до которой уменьшаются изображения
	ImageMaxBytes int `env:"IMAGE_MAX_BYTES"` // Лимит размера перекодированного JPEG, в байтах

	// Вход CLI
	ChatHistory     string   `env:"CHAT_HISTORY"`              // Стартовая история диалога (JSON-массив)
	ChatHistoryFile string   `env:"CHAT_HISTORY_FILE"`         // Файл со стартовой историей; перекрывает CHAT_HISTORY
	Images          []string `env:"IMAGES" envSeparator:";"`   // Пути к файлам изображений
	Interactive     bool     `env:"INTERACTIVE"`               // Режим диалога: читать реплики из stdin

	// NodeServer — HTTP/WebSocket поверхность
	NodeServer NodeServerConfig
}

// NodeServerConfig конфигурация HTTP/WebSocket сервера.
type NodeServerConfig struct {
	BindAddr        string `env:"NODE_SERVER_BIND_ADDR"`         // Адрес слушателя, напр. 127.0.0.1:8190
	AuthToken       string `env:"NODE_SERVER_AUTH_TOKEN"`        // Bearer-токен авторизации (опционально)
	SessionMaxTurns int    `env:"NODE_SERVER_SESSION_MAX_TURNS"` // Максимум хранимых сообщений WebSocket-сессии; 0 — без ограничения
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode:             false,
		ServerURL:             "http://localhost:8080/v1",
		APIKey:                "sk-no-key-required",
		Model:                 "local-model",
		SystemPrompt:          "You are a helpful AI assistant.",
		RequestTimeoutSeconds: 120,
		MaxImages:             5,
		ImageMaxWidth:         1280,
		ImageMaxBytes:         1 * 1024 * 1024,
		ChatHistory:           "",
		NodeServer: NodeServerConfig{
			BindAddr: "127.0.0.1:8190",
		},
	}
}

// NewConfig загружает конфигурацию приложения.
func NewConfig() *Config {
	_ = godotenv.Load()

	// Стартуем с дефолтов, затем перекрываем .env/окружением и флагами
	cfg := Defaults()
	_ = env.Parse(cfg)

	flag.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага: вместо реального сервера используется заглушка")
	flag.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "базовый URL OpenAI-совместимого сервера llama.cpp")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "ключ API (для llama.cpp подходит заглушка)")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "имя модели в запросе")
	flag.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "системная инструкция по умолчанию")
	flag.IntVar(&cfg.RequestTimeoutSeconds, "request-timeout-seconds", cfg.RequestTimeoutSeconds, "таймаут одного запроса в секундах")
	// Изображения
	flag.IntVar(&cfg.MaxImages, "max-images", cfg.MaxImages, "максимум изображений в одном обмене")
	flag.IntVar(&cfg.ImageMaxWidth, "image-max-width", cfg.ImageMaxWidth, "ширина, до которой уменьшаются изображения")
	flag.IntVar(&cfg.ImageMaxBytes, "image-max-bytes", cfg.ImageMaxBytes, "лимит размера перекодированного JPEG в байтах")
	// Вход CLI
	flag.StringVar(&cfg.ChatHistory, "chat-history", cfg.ChatHistory, "стартовая история диалога (JSON-массив)")
	flag.StringVar(&cfg.ChatHistoryFile, "chat-history-file", cfg.ChatHistoryFile, "файл со стартовой историей; перекрывает -chat-history")
	flag.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "режим диалога: читать реплики из stdin")
	// Принимаем список путей к изображениям одной строкой, разделённой ';'
	imagesFlag := strings.Join(cfg.Images, ";")
	flag.StringVar(&imagesFlag, "images", imagesFlag, "пути к файлам изображений, разделённые ';'")
	// NodeServer
	flag.StringVar(&cfg.NodeServer.BindAddr, "node-server-bind-addr", cfg.NodeServer.BindAddr, "адрес для прослушивания HTTP/WebSocket сервера (напр. 127.0.0.1:8190)")
	flag.StringVar(&cfg.NodeServer.AuthToken, "node-server-auth-token", cfg.NodeServer.AuthToken, "Bearer-токен авторизации сервера (опционально)")
	flag.IntVar(&cfg.NodeServer.SessionMaxTurns, "node-server-session-max-turns", cfg.NodeServer.SessionMaxTurns, "максимум хранимых сообщений WebSocket-сессии (0 — без ограничения)")
	flag.Parse()

	// Разбор списков по общему правилу (trim + убрать пустые)
	cfg.Images = parseListFlag(imagesFlag, nil)

	return cfg
}

// parseListFlag разбирает значение флага со списком, разделённым ';'
func parseListFlag(v string, def []string) []string {
	// Пустая строка → дефолт
	if v == "" {
		return def
	}
	parts := strings.Split(v, ";")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
