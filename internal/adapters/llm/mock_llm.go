package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// MockLLM streams a canned reply word by word. Useful for local dev.
type MockLLM struct {
	// Reply overrides the canned reply when set.
	Reply string
	// Err is returned from StreamChat when set.
	Err error

	// Messages records the last request.
	Messages []domain.ChatMessage
}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Name() string { return "mock" }

func (m *MockLLM) Configured() error { return nil }

func (m *MockLLM) StreamChat(_ context.Context, messages []domain.ChatMessage) (domain.TokenStream, error) {
	m.Messages = messages
	if m.Err != nil {
		return nil, m.Err
	}

	reply := m.Reply
	if reply == "" {
		var last string
		if n := len(messages); n > 0 {
			last = messages[n-1].Content.PlainText()
		}
		reply = fmt.Sprintf("Acknowledged. You said %q.", last)
	}
	return wordStream(reply), nil
}

type wordStream string

func (w wordStream) Tokens() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		words := strings.SplitAfter(string(w), " ")
		for _, word := range words {
			if word == "" {
				continue
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}

func (wordStream) Close() error { return nil }
