package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/PabloGalante/katana-portal/internal/adapters/notify"
	"github.com/PabloGalante/katana-portal/internal/domain"
)

func packet() *domain.HandoffPacket {
	return &domain.HandoffPacket{
		ID:       "h1",
		From:     domain.AgentKimi,
		To:       domain.HumanReviewer,
		Trigger:  domain.TriggerSecuritySensitive,
		Severity: domain.SeverityCritical,
		Summary:  "key leaked",
		Status:   domain.EscalationPending,
	}
}

func TestPayload(t *testing.T) {
	body, err := notify.Payload(packet())
	require.NoError(t, err)

	assert.Equal(t, "[critical] security_sensitive escalation from kimi: key leaked", gjson.GetBytes(body, "text").String())
	assert.Equal(t, "jhawk", gjson.GetBytes(body, "to").String())
	assert.Equal(t, "h1", gjson.GetBytes(body, "escalation.id").String())
	assert.Equal(t, "pending", gjson.GetBytes(body, "escalation.status").String())
}

func TestWebhook_Notify(t *testing.T) {
	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, notify.NewWebhook(notify.WebhookConfig{URL: server.URL}).Notify(context.Background(), packet()))
	assert.Equal(t, "h1", gjson.GetBytes(got, "escalation.id").String())
}

func TestWebhook_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := notify.NewWebhook(notify.WebhookConfig{URL: server.URL}).Notify(context.Background(), packet())
	assert.ErrorContains(t, err, "status 500")

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	err = notify.NewWebhook(notify.WebhookConfig{URL: slow.URL, Timeout: 20 * time.Millisecond}).Notify(context.Background(), packet())
	assert.Error(t, err)
}
