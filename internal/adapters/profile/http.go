// Package profile fetches the commander profile from a remote HTTP source.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

const maxProfileBody = 1 << 20

// envelopes are checked in order; a profile stored by a key/value service
// usually arrives wrapped in one of them.
var envelopes = []string{"value", "profile", "data"}

type Config struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

type HTTPSource struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPSource(cfg Config) *HTTPSource {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: cfg.URL, token: cfg.Token, client: hc}
}

func (s *HTTPSource) FetchProfile(ctx context.Context) (*domain.CommanderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, fmt.Errorf("profile: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile: status %d", resp.StatusCode)
	}

	return Decode(body)
}

// Decode parses a profile document, unwrapping a known envelope first.
func Decode(body []byte) (*domain.CommanderProfile, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("profile: body is not JSON")
	}

	raw := body
	for _, key := range envelopes {
		if v := gjson.GetBytes(body, key); v.IsObject() {
			raw = []byte(v.Raw)
			break
		}
	}

	var p domain.CommanderProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("profile: decode: %w", err)
	}
	if p.Identity.Name == "" && p.Version == "" {
		return nil, fmt.Errorf("profile: document has neither identity nor version")
	}
	return &p, nil
}
