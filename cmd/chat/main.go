package main

import (
	"LlamaLiteClient/internal/ai"
	"LlamaLiteClient/internal/config"
	"LlamaLiteClient/internal/service"
	"LlamaLiteClient/internal/service/image"
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CLI вокруг узла обмена: разовый запрос аргументами либо диалог через stdin.
// Историю между репликами диалога несёт сам процесс.
func main() {
	cfg := config.NewConfig()
	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// делаем регистратор SugaredLogger
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Errorw("Failed to sync logger", "error", err)
		}
	}()

	ctx := context.Background()

	sugar.Infow(
		"Starting app",
		"DebugMode", cfg.DebugMode,
		"ServerURL", cfg.ServerURL,
		"Model", cfg.Model,
	)

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	factory := func(serverURL string) service.ChatClient {
		if cfg.DebugMode {
			return ai.NewStubClient()
		}
		return ai.NewLlamaClient(serverURL, cfg.APIKey, cfg.Model, timeout, sugar)
	}

	processor := image.NewProcessor(cfg.ImageMaxWidth, cfg.ImageMaxBytes)
	node := service.NewNode(factory, processor, cfg.MaxImages, sugar)

	history := cfg.ChatHistory
	if cfg.ChatHistoryFile != "" {
		b, err := os.ReadFile(cfg.ChatHistoryFile)
		if err != nil {
			log.Fatalf("failed to read chat history file: %v", err)
		}
		history = string(b)
	}

	// Изображения прикрепляются к первой отправленной реплике
	images := loadImages(cfg.Images)

	prompt := strings.Join(flag.Args(), " ")
	if !cfg.Interactive && prompt != "" {
		out := node.Execute(ctx, service.ChatInput{
			ServerURL:    cfg.ServerURL,
			Prompt:       prompt,
			SystemPrompt: cfg.SystemPrompt,
			ChatHistory:  history,
			Images:       images,
		})
		fmt.Println(out.ResponseMessage)
		fmt.Println(out.ChatHistory)
		return
	}

	// Диалоговый режим: каждая строка stdin — одна реплика
	fmt.Println("Диалог с llama.cpp. Пустая строка или exit — выход.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "exit" {
			break
		}

		out := node.Execute(ctx, service.ChatInput{
			ServerURL:    cfg.ServerURL,
			Prompt:       line,
			SystemPrompt: cfg.SystemPrompt,
			ChatHistory:  history,
			Images:       images,
		})
		images = nil
		fmt.Println(out.ResponseMessage)
		// Неудачный обмен не подменяет историю диалога
		if out.Err == nil {
			history = out.ChatHistory
		}
	}
}

// loadImages читает файлы изображений с диска; сырые байты декодирует узел обмена.
func loadImages(paths []string) [][]byte {
	if len(paths) == 0 {
		return nil
	}
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			log.Fatalf("failed to read image %s: %v", p, err)
		}
		images = append(images, b)
	}
	return images
}
