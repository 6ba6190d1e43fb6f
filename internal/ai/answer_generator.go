package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"docqa/internal/rag"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1000

	SystemPrompt = `You are an intelligent document Q&A assistant. Your role is to:
1. Analyze the provided context carefully
2. Answer questions accurately based on the available information
3. Admit when you don't have enough information
4. Provide helpful and relevant responses
5. Maintain professional communication`

	qaTemplate = `You are a helpful AI assistant that answers questions based on the provided context.

Context:
%s

Question: %s

Please provide a comprehensive and accurate answer based on the context provided. If the context doesn't contain enough information to answer the question, please say so clearly.

Guidelines:
- Be concise but thorough
- Use specific details from the context when available
- If uncertain, acknowledge the limitation
- Maintain a professional and helpful tone

Answer:`

	passageSeparator = "\n\n---\n\n"
)

// Completer is the chat completion call the generator wraps.
type Completer interface {
	Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (*Completion, error)
}

type ResilienceConfig struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	BreakerMaxRequests  uint32
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
}

// AnswerGenerator answers a question from retrieved passages through an
// OpenAI-compatible chat endpoint.
type AnswerGenerator struct {
	client     Completer
	cfg        ChatConfig
	resilience ResilienceConfig
	breaker    *gobreaker.CircuitBreaker
}

func NewAnswerGenerator(client Completer, cfg ChatConfig, rc ResilienceConfig) *AnswerGenerator {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	if rc.InitialInterval <= 0 {
		rc.InitialInterval = 500 * time.Millisecond
	}
	if rc.MaxInterval <= 0 {
		rc.MaxInterval = 5 * time.Second
	}
	if rc.BreakerMaxRequests == 0 {
		rc.BreakerMaxRequests = 1
	}
	if rc.BreakerInterval <= 0 {
		rc.BreakerInterval = 60 * time.Second
	}
	if rc.BreakerTimeout <= 0 {
		rc.BreakerTimeout = 30 * time.Second
	}
	if rc.BreakerFailureRatio <= 0 {
		rc.BreakerFailureRatio = 0.6
	}
	if rc.BreakerMinRequests == 0 {
		rc.BreakerMinRequests = 5
	}

	settings := gobreaker.Settings{
		Name:        "answer-generator",
		MaxRequests: rc.BreakerMaxRequests,
		Interval:    rc.BreakerInterval,
		Timeout:     rc.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= rc.BreakerMinRequests && failureRatio >= rc.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return !statusErr.Retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("circuit breaker %s state change: %s -> %s", name, from, to)
		},
	}

	return &AnswerGenerator{
		client:     client,
		cfg:        cfg,
		resilience: rc,
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *AnswerGenerator) Generate(ctx context.Context, question string, passages []rag.RetrievalResult) (*rag.Generation, error) {
	start := time.Now()
	prompt := BuildPrompt(question, passages)
	messages := []ChatMessage{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: prompt},
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.resilience.InitialInterval
	b.MaxInterval = g.resilience.MaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.resilience.MaxRetries)), ctx)

	var completion *Completion
	err := backoff.Retry(func() error {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.client.Complete(ctx, g.cfg, messages)
		})
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			log.Printf("llm completion failed, retrying: %v", err)
			return err
		}
		completion = result.(*Completion)
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}

	answer := strings.TrimSpace(completion.Content)
	tokens := completion.TotalTokens
	if tokens <= 0 {
		tokens = EstimateTokens(prompt + answer)
	}
	elapsed := time.Since(start)
	log.Printf("generated answer in %dms, tokens: %d", elapsed.Milliseconds(), tokens)

	return &rag.Generation{
		Answer:       answer,
		TokensUsed:   tokens,
		ResponseTime: elapsed,
	}, nil
}

// BuildPrompt renders the question template over the passages in rank order.
func BuildPrompt(question string, passages []rag.RetrievalResult) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = "Document: " + p.Metadata.Title + "\nContent: " + p.Metadata.Content
	}
	return fmt.Sprintf(qaTemplate, strings.Join(blocks, passageSeparator), question)
}

// EstimateTokens approximates token usage at four UTF-16 code units per
// token, rounded up.
func EstimateTokens(text string) int {
	units := 0
	for _, r := range text {
		if n := utf16.RuneLen(r); n > 0 {
			units += n
		} else {
			units++
		}
	}
	return (units + 3) / 4
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
