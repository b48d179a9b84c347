package service

import (
	"LlamaLiteClient/internal/ai"
	"LlamaLiteClient/internal/service/image"
	"LlamaLiteClient/internal/transcript"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxImages = 5

// ChatClient выполняет один обмен с сервером инференса.
type ChatClient interface {
	Chat(ctx context.Context, req ai.ChatRequest) (*transcript.Completion, error)
}

// ImageProcessor готовит сырые байты изображения к отправке.
type ImageProcessor interface {
	Process(raw []byte) (image.ProcessedImage, error)
}

// ClientFactory создаёт транспорт для конкретного serverURL.
type ClientFactory func(serverURL string) ChatClient

// ChatInput входные данные одного обмена. История и изображения необязательны.
type ChatInput struct {
	ServerURL    string
	Prompt       string
	SystemPrompt string
	ChatHistory  string
	Images       [][]byte
}

// ChatOutput пара результата: ответ ассистента и сериализованная история.
// При сбое ResponseMessage начинается с "Error: ", история либо сохраняет
// проверенный контекст вызывающего, либо содержит одну системную запись о сбое,
// а Err хранит причину для хостов, которым нужен признак успеха.
type ChatOutput struct {
	ResponseMessage string
	ChatHistory     string
	Err             error
}

// Node сервис оркестрации обмена: проверка входа, подготовка изображений,
// запрос к серверу, слияние ответа с историей. Состояния между вызовами нет,
// вся непрерывность диалога передаётся вызывающим в сериализованной истории.
type Node struct {
	factory   ClientFactory
	images    ImageProcessor
	maxImages int
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]ChatClient
}

// NewNode создаёт сервис. Клиенты кешируются по serverURL внутри Node.
func NewNode(factory ClientFactory, images ImageProcessor, maxImages int, logger *zap.SugaredLogger) *Node {
	if maxImages <= 0 {
		maxImages = defaultMaxImages
	}
	return &Node{
		factory:   factory,
		images:    images,
		maxImages: maxImages,
		logger:    logger,
		clients:   make(map[string]ChatClient),
	}
}

// Execute проводит один обмен от входной проверки до сериализации результата.
// Любой сбой возвращается внутри ChatOutput, наружу ошибки не распространяются.
func (n *Node) Execute(ctx context.Context, in ChatInput) ChatOutput {
	log := n.logger.With("exchange", uuid.NewString())
	log.Infow("Обмен получен", "prompt_len", len(in.Prompt), "images", len(in.Images))

	serverURL := strings.TrimSpace(in.ServerURL)
	if serverURL == "" {
		return n.failure(log, errors.New("server_url cannot be empty"), nil)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return n.failure(log, errors.New("prompt cannot be empty"), nil)
	}

	history, err := transcript.Parse(in.ChatHistory)
	if err != nil {
		return n.failure(log, err, nil)
	}
	log.Infow("История проверена", "messages", len(history))

	imageURLs, err := n.prepareImages(in.Images)
	if err != nil {
		return n.failure(log, err, history)
	}

	client := n.getClient(serverURL)
	log.Infow("Запрос отправляется", "server", serverURL)

	comp, err := client.Chat(ctx, ai.ChatRequest{
		SystemPrompt: strings.TrimSpace(in.SystemPrompt),
		History:      history,
		Prompt:       prompt,
		ImageURLs:    imageURLs,
	})
	if err != nil {
		return n.failure(log, err, history)
	}

	text, updated, err := transcript.Merge(history, comp)
	if err != nil {
		return n.failure(log, err, history)
	}
	log.Infow("Ответ объединён", "chars", len(text), "messages", len(updated))

	out, err := updated.Serialize()
	if err != nil {
		// Деградация по контракту: новый ход теряется, но проверенный
		// контекст вызывающего возвращается нетронутым.
		log.Warnw("Не удалось сериализовать обновлённую историю", "error", err)
		prior, perr := history.Serialize()
		if perr != nil {
			return n.failure(log, err, nil)
		}
		return ChatOutput{ResponseMessage: text, ChatHistory: prior}
	}

	log.Infow("Обмен завершён успешно")
	return ChatOutput{ResponseMessage: text, ChatHistory: out}
}

// prepareImages превращает занятые слоты в data URL. Пустые слоты пропускаются,
// лишние сверх лимита отбрасываются.
func (n *Node) prepareImages(images [][]byte) ([]string, error) {
	if len(images) > n.maxImages {
		images = images[:n.maxImages]
	}
	urls := make([]string, 0, len(images))
	for i, raw := range images {
		if len(raw) == 0 {
			continue
		}
		processed, err := n.images.Process(raw)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		urls = append(urls, processed.DataURL)
	}
	return urls, nil
}

// getClient возвращает закешированный транспорт для serverURL либо создаёт новый.
// Реестр без политики инвалидации.
func (n *Node) getClient(serverURL string) ChatClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.clients[serverURL]
	if !ok {
		n.logger.Infow("Создаётся новый клиент", "server", serverURL)
		c = n.factory(serverURL)
		n.clients[serverURL] = c
	}
	return c
}

func (n *Node) failure(log *zap.SugaredLogger, cause error, prior transcript.Transcript) ChatOutput {
	log.Errorw("Обмен завершился ошибкой", "error", cause)
	return errorPair(cause, prior)
}

// errorPair формирует контракт сбоя. Непустая проверенная история возвращается
// как есть, чтобы вызывающий не потерял контекст диалога, иначе история
// заменяется одной системной записью с описанием сбоя.
func errorPair(cause error, prior transcript.Transcript) ChatOutput {
	msg := cause.Error()
	if len(prior) > 0 {
		if out, err := prior.Serialize(); err == nil {
			return ChatOutput{ResponseMessage: "Error: " + msg, ChatHistory: out, Err: cause}
		}
	}
	note := transcript.Transcript{{Role: transcript.RoleSystem, Content: "Error occurred: " + msg}}
	out, err := note.Serialize()
	if err != nil {
		out = "[]"
	}
	return ChatOutput{ResponseMessage: "Error: " + msg, ChatHistory: out, Err: cause}
}
