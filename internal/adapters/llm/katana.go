package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

type ctxKey string

const ctxKeySessionID ctxKey = "session_id"

// WithSessionID attaches the portal session id to outbound gateway calls.
func WithSessionID(ctx context.Context, id domain.SessionID) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

func sessionIDFrom(ctx context.Context) domain.SessionID {
	id, _ := ctx.Value(ctxKeySessionID).(domain.SessionID)
	return id
}

// ReplyShape names which field of a gateway response carried the reply.
type ReplyShape string

const (
	ShapeResponse      ReplyShape = "response"
	ShapeText          ReplyShape = "text"
	ShapeOutput        ReplyShape = "output"
	ShapeContent       ReplyShape = "content"
	ShapeMessage       ReplyShape = "message"
	ShapeChoices       ReplyShape = "choices"
	ShapeRawJSON       ReplyShape = "raw_json"
	ShapePlainTextBody ReplyShape = "plain_text"
)

// gatewayShapes is checked in order; the first string field wins.
var gatewayShapes = []struct {
	shape ReplyShape
	path  string
}{
	{ShapeResponse, "response"},
	{ShapeText, "text"},
	{ShapeOutput, "output"},
	{ShapeContent, "content"},
	{ShapeMessage, "message"},
	{ShapeChoices, "choices.0.message.content"},
}

// DecodeGatewayReply extracts the reply text from any response shape the
// gateway is known to return. Unknown JSON is returned verbatim; a non-JSON
// body is returned as plain text.
func DecodeGatewayReply(body []byte) (string, ReplyShape) {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body)), ShapePlainTextBody
	}
	for _, s := range gatewayShapes {
		r := gjson.GetBytes(body, s.path)
		if r.Type == gjson.String && r.Str != "" {
			return r.Str, s.shape
		}
	}
	return strings.TrimSpace(string(body)), ShapeRawJSON
}

type GatewayConfig struct {
	URL        string
	Token      string
	Agent      string
	HTTPClient *http.Client
}

// GatewayClient routes the raw user message to the Katana agent through the
// gateway. The gateway answers in one piece, so the stream has one token.
type GatewayClient struct {
	url        string
	token      string
	agent      string
	httpClient *http.Client
}

func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &GatewayClient{
		url:        cfg.URL,
		token:      cfg.Token,
		agent:      cfg.Agent,
		httpClient: hc,
	}
}

func (g *GatewayClient) Name() string { return "katana-gateway" }

func (g *GatewayClient) Configured() error {
	if g.url == "" || g.token == "" {
		return fmt.Errorf("katana gateway: %w", domain.ErrMissingCredential)
	}
	return nil
}

type gatewayRequest struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

func (g *GatewayClient) StreamChat(ctx context.Context, messages []domain.ChatMessage) (domain.TokenStream, error) {
	if err := g.Configured(); err != nil {
		return nil, err
	}

	var message string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			message = messages[i].Content.PlainText()
			break
		}
	}

	body, err := json.Marshal(gatewayRequest{
		Agent:     g.agent,
		Message:   message,
		SessionID: string(sessionIDFrom(ctx)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	text, shape := DecodeGatewayReply(raw)
	observability.LoggerFromContext(ctx).Debug("gateway reply decoded", "shape", shape, "len", len(text))

	return singleToken(text), nil
}

type singleToken string

func (s singleToken) Tokens() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s != "" {
			yield(string(s), nil)
		}
	}
}

func (singleToken) Close() error { return nil }
