// Package chat answers visitor questions from a static FAQ, optionally
// backed by an LLM completer. The completer is injected; a Bot without one
// still answers from the FAQ.
package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/pkg/metrics"
)

// Reply sources.
const (
	SourceLLM     = "llm"
	SourceFAQ     = "faq"
	SourceDefault = "default"
)

const (
	maxMessageLen = 1000
	maxHistory    = 10
)

// Message is one turn of conversation. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the bot's answer.
type Reply struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Completer produces an answer from a conversation.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Bot answers chat messages.
type Bot struct {
	faq       []FAQEntry
	completer Completer
	system    string
}

// Option configures a Bot.
type Option func(*Bot)

// WithCompleter enables LLM answers.
func WithCompleter(c Completer) Option {
	return func(b *Bot) { b.completer = c }
}

// WithFAQ replaces the built-in FAQ.
func WithFAQ(faq []FAQEntry) Option {
	return func(b *Bot) { b.faq = faq }
}

// NewBot creates a Bot. companyName is used in the LLM system prompt.
func NewBot(companyName string, opts ...Option) *Bot {
	b := &Bot{faq: DefaultFAQ}
	for _, opt := range opts {
		opt(b)
	}
	b.system = systemPrompt(companyName, b.faq)
	return b
}

// HasLLM reports whether an LLM completer is configured.
func (b *Bot) HasLLM() bool { return b.completer != nil }

// Reply answers message. LLM failures fall back to the FAQ.
func (b *Bot) Reply(ctx context.Context, message string, history []Message) Reply {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > maxMessageLen {
		message = string([]rune(message)[:maxMessageLen])
	}

	reply := b.reply(ctx, message, history)
	metrics.ChatRepliesTotal.WithLabelValues(reply.Source).Inc()
	return reply
}

func (b *Bot) reply(ctx context.Context, message string, history []Message) Reply {
	if b.completer != nil && message != "" {
		msgs := trimHistory(history)
		msgs = append(msgs, Message{Role: "user", Content: message})
		text, err := b.completer.Complete(ctx, b.system, msgs)
		if err == nil && strings.TrimSpace(text) != "" {
			return Reply{Text: strings.TrimSpace(text), Source: SourceLLM}
		}
		logger.Warn("chat completer failed, using FAQ", "error", err)
	}

	if answer, ok := Match(b.faq, message); ok {
		return Reply{Text: answer, Source: SourceFAQ}
	}
	return Reply{Text: DefaultAnswer, Source: SourceDefault}
}

// trimHistory keeps the most recent valid turns.
func trimHistory(history []Message) []Message {
	out := make([]Message, 0, maxHistory+1)
	for _, m := range history {
		if (m.Role != "user" && m.Role != "assistant") || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	// the messages API requires the conversation to open with a user turn
	for len(out) > 0 && out[0].Role != "user" {
		out = out[1:]
	}
	return out
}

func systemPrompt(companyName string, faq []FAQEntry) string {
	var sb strings.Builder
	sb.WriteString("You are the website assistant for ")
	sb.WriteString(companyName)
	sb.WriteString(", an accounting services startup. Answer briefly and only about the company. ")
	sb.WriteString("If unsure, suggest joining the waitlist or contacting the team. Known answers:\n")
	for _, entry := range faq {
		sb.WriteString("- ")
		sb.WriteString(entry.Answer)
		sb.WriteString("\n")
	}
	return sb.String()
}
