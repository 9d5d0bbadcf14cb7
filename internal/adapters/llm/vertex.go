package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type VertexConfig struct {
	ProjectID   string
	Location    string
	Model       string
	Temperature float64
	MaxTokens   int
}

type VertexClient struct {
	client      *genai.Client
	modelName   string
	temperature float32
	maxTokens   int32
}

// NewVertexClient creates a ChatProvider backed by Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, errors.New("vertex: project and location must be set")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.ProjectID,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{
		client:      client,
		modelName:   modelName,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (v *VertexClient) Name() string { return "vertex" }

func (v *VertexClient) Configured() error {
	if v.client == nil {
		return fmt.Errorf("vertex: %w", domain.ErrMissingCredential)
	}
	return nil
}

// StreamChat implements domain.ChatProvider using GenerateContentStream.
// System messages become the system instruction; assistant turns map to the
// model role.
func (v *VertexClient) StreamChat(ctx context.Context, messages []domain.ChatMessage) (domain.TokenStream, error) {
	system, contents, err := toGenaiContents(messages)
	if err != nil {
		return nil, err
	}

	temp := v.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: v.maxTokens,
	}
	if system != "" {
		// genai has no system role; the instruction content is tagged as user.
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	return &vertexStream{
		seq:    v.client.Models.GenerateContentStream(streamCtx, v.modelName, contents, cfg),
		cancel: cancel,
	}, nil
}

func toGenaiContents(messages []domain.ChatMessage) (string, []*genai.Content, error) {
	var system []string
	var contents []*genai.Content

	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content.PlainText())
			continue
		}

		role := genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}

		if !m.Content.IsMultimodal() {
			contents = append(contents, genai.NewContentFromText(m.Content.Text, genai.Role(role)))
			continue
		}

		parts := make([]*genai.Part, 0, len(m.Content.Parts))
		for _, p := range m.Content.Parts {
			switch p.Type {
			case domain.PartText:
				parts = append(parts, genai.NewPartFromText(p.Text))
			case domain.PartImageURL:
				if p.ImageURL == nil {
					continue
				}
				data, mime, err := decodeDataURI(p.ImageURL.URL)
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, genai.NewPartFromBytes(data, mime))
			}
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
	}

	return strings.Join(system, "\n\n"), contents, nil
}

// decodeDataURI splits "data:<mime>;base64,<payload>".
func decodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", errors.New("vertex: image must be a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errors.New("vertex: malformed data URI")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", errors.New("vertex: data URI must be base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("vertex: decode image: %w", err)
	}
	return data, mime, nil
}

type vertexStream struct {
	seq    iter.Seq2[*genai.GenerateContentResponse, error]
	cancel context.CancelFunc
}

func (s *vertexStream) Tokens() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.cancel()
		for resp, err := range s.seq {
			if err != nil {
				yield("", fmt.Errorf("vertex stream: %w", err))
				return
			}
			// chunks carrying only safety or usage metadata have no text
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (s *vertexStream) Close() error {
	s.cancel()
	return nil
}
