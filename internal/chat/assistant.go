package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	tipPrompt = "Give me a different, short, practical productivity tip or motivational quote each time you are asked. Return only the tip or quote, nothing else."

	maxMessageLength = 4000
)

var (
	// ErrInvalidInput indicates an empty or oversized message.
	ErrInvalidInput = errors.New("chat: invalid input")
	// ErrGeneration wraps failures of the underlying generator.
	ErrGeneration = errors.New("chat: generation failed")
)

// ParaphraseKind selects the paraphrase prompt.
type ParaphraseKind string

const (
	KindTitle   ParaphraseKind = "title"
	KindContent ParaphraseKind = "content"
)

// ParseParaphraseKind maps "title" to KindTitle and anything else to KindContent.
func ParseParaphraseKind(value string) ParaphraseKind {
	if strings.EqualFold(strings.TrimSpace(value), string(KindTitle)) {
		return KindTitle
	}
	return KindContent
}

// Reply is the assistant's answer. Filtered is true when the message was outside the allow-list
// and the canned reply was returned without calling the generator.
type Reply struct {
	Text     string
	Filtered bool
}

// Assistant gates chat messages and proxies prompts to a Generator.
type Assistant struct {
	generator Generator
	logger    *zap.Logger
}

// NewAssistant constructs an Assistant around generator.
func NewAssistant(generator Generator, logger *zap.Logger) (*Assistant, error) {
	if generator == nil {
		return nil, errors.New("chat: generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assistant{generator: generator, logger: logger}, nil
}

// Reply answers blog questions and returns DisallowedReply for everything else.
func (a *Assistant) Reply(ctx context.Context, message string) (Reply, error) {
	if err := validateInput(message); err != nil {
		return Reply{}, err
	}
	if !Allowed(message) {
		return Reply{Text: DisallowedReply, Filtered: true}, nil
	}
	text, err := a.generate(ctx, "chat.reply", message)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text}, nil
}

// Paraphrase rewrites a post title or body in natural English.
func (a *Assistant) Paraphrase(ctx context.Context, text string, kind ParaphraseKind) (string, error) {
	if err := validateInput(text); err != nil {
		return "", err
	}
	return a.generate(ctx, "chat.paraphrase", paraphrasePrompt(text, kind))
}

// Tip returns a short productivity tip or motivational quote.
func (a *Assistant) Tip(ctx context.Context) (string, error) {
	return a.generate(ctx, "chat.tip", tipPrompt)
}

func (a *Assistant) generate(ctx context.Context, operation, prompt string) (string, error) {
	text, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		a.logger.Error("chat generation failed",
			zap.String("operation", operation),
			zap.String("reason", "generate_failed"),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return text, nil
}

func paraphrasePrompt(text string, kind ParaphraseKind) string {
	subject := "content"
	if kind == KindTitle {
		subject = "title"
	}
	return fmt.Sprintf("Rewrite the following blog post %s in correct, natural English. Return only the improved %s, nothing else:\n\"%s\"", subject, subject, text)
}

func validateInput(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if len(trimmed) > maxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxMessageLength)
	}
	return nil
}
