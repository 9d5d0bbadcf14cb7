package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	httpadapter "github.com/PabloGalante/katana-portal/internal/adapters/http"
	"github.com/PabloGalante/katana-portal/internal/adapters/llm"
	"github.com/PabloGalante/katana-portal/internal/adapters/notify"
	"github.com/PabloGalante/katana-portal/internal/adapters/profile"
	firestorestore "github.com/PabloGalante/katana-portal/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/katana-portal/internal/adapters/storage/memory"
	"github.com/PabloGalante/katana-portal/internal/app/chat"
	"github.com/PabloGalante/katana-portal/internal/app/commander"
	"github.com/PabloGalante/katana-portal/internal/app/detached"
	"github.com/PabloGalante/katana-portal/internal/app/escalation"
	"github.com/PabloGalante/katana-portal/internal/app/ratelimit"
	"github.com/PabloGalante/katana-portal/internal/app/session"
	"github.com/PabloGalante/katana-portal/internal/config"
	"github.com/PabloGalante/katana-portal/internal/domain"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

type stores struct {
	sessions    domain.SessionStore
	messages    domain.MessageStore
	memory      domain.MemoryStore
	escalations domain.EscalationStore
	delegations domain.DelegationStore
	activity    domain.ActivityStore
	profiles    domain.ProfileSource
}

type app struct {
	handler  http.Handler
	sessions *session.Service
	tasks    *detached.Runner
	closers  []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			observability.Logger().Warn("close failed", "error", err)
		}
	}
}

// runSweeper deletes stale messages every interval until ctx ends.
func (a *app) runSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sessions.Sweep(ctx); err != nil {
				observability.Logger().Warn("staleness sweep failed", "error", err)
			}
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := observability.Logger()
	a := &app{tasks: detached.NewRunner(10 * time.Second)}

	st, err := buildStores(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gateway := llm.NewGatewayClient(llm.GatewayConfig{
		URL:   cfg.Gateway.URL,
		Token: cfg.Gateway.Token,
		Agent: cfg.Gateway.Agent,
	})

	var notifier domain.Notifier
	if cfg.WebhookURL != "" {
		log.Info("escalation webhook enabled")
		notifier = notify.NewWebhook(notify.WebhookConfig{URL: cfg.WebhookURL, Timeout: cfg.WebhookTimeout})
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateLimitWindow)

	sessions := session.NewService(session.Deps{
		Sessions:    st.sessions,
		Messages:    st.messages,
		Delegations: st.delegations,
		Activity:    st.activity,
		Limiter:     limiter,
		Tasks:       a.tasks,
	}, session.Config{
		Supervisor:      domain.AgentID(cfg.SupervisorAgent),
		Staleness:       cfg.StalenessWindow,
		DelegationModel: cfg.DelegationModel,
	})

	loader := commander.NewLoader(st.profiles, st.memory, domain.AgentKimi)

	a.sessions = sessions
	a.handler = httpadapter.NewServer(httpadapter.Deps{
		Chat: chat.NewOrchestrator(chat.Deps{
			Loader:        loader,
			Provider:      provider,
			Gateway:       gateway,
			Messages:      st.messages,
			Sessions:      sessions,
			Tasks:         a.tasks,
			HistoryWindow: cfg.HistoryWindow,
		}),
		Sessions: sessions,
		Escalations: escalation.NewService(escalation.Deps{
			Packets:       st.escalations,
			Messages:      st.messages,
			Memory:        st.memory,
			Activity:      st.activity,
			Notifier:      notifier,
			Limiter:       limiter,
			Tasks:         a.tasks,
			NotifyTimeout: cfg.WebhookTimeout,
		}),
		Memory: st.memory,
		Loader: loader,
	})
	return a, nil
}

func buildStores(ctx context.Context, cfg *config.Config, a *app) (*stores, error) {
	log := observability.Logger()
	var st stores

	switch cfg.StorageBackend {
	case config.StorageFirestore:
		log.Info("using firestore storage", "project", cfg.GCPProjectID)
		fs, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("initializing firestore store: %w", err)
		}
		a.closers = append(a.closers, fs.Close)

		// one store, every port
		st = stores{
			sessions:    fs,
			messages:    fs,
			memory:      fs,
			escalations: fs,
			delegations: fs,
			activity:    fs,
			profiles:    fs,
		}
	default:
		log.Info("using in-memory storage")
		st = stores{
			sessions:    memstore.NewSessionStore(),
			messages:    memstore.NewMessageStore(),
			memory:      memstore.NewMemoryStore(),
			escalations: memstore.NewEscalationStore(),
			delegations: memstore.NewDelegationStore(),
			activity:    memstore.NewActivityStore(),
			profiles:    memstore.NewProfileStore(),
		}
	}

	if cfg.ProfileURL != "" {
		log.Info("fetching commander profile over http")
		st.profiles = profile.NewHTTPSource(profile.Config{URL: cfg.ProfileURL, Token: cfg.ProfileToken})
	}
	return &st, nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (domain.ChatProvider, error) {
	up := cfg.Upstream
	log := observability.Logger().With("provider", up.Provider, "model", up.Model)

	switch up.Provider {
	case config.ProviderMock:
		log.Info("using mock chat provider")
		return llm.NewMockLLM(), nil
	case config.ProviderVertex:
		log.Info("using vertex chat provider")
		c, err := llm.NewVertexClient(ctx, llm.VertexConfig{
			ProjectID:   cfg.GCPProjectID,
			Location:    cfg.GCPLocation,
			Model:       up.Model,
			Temperature: up.Temperature,
			MaxTokens:   up.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing vertex client: %w", err)
		}
		return c, nil
	default:
		log.Info("using openai-compatible chat provider", "base_url", up.BaseURL)
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     up.BaseURL,
			APIKey:      up.APIKey,
			Model:       up.Model,
			Temperature: up.Temperature,
			MaxTokens:   up.MaxTokens,
		}), nil
	}
}
