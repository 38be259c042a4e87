// Package api provides the HTTP surface and the main server wiring for the
// loan agent.
//
// It exposes RESTful endpoints for ingesting messages, inspecting customer
// profiles and conversations, and operating the follow-up queue and prompt
// catalog.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/propfin/loanagent/internal/dialogue"
	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/lockfile"
	"github.com/propfin/loanagent/internal/messaging"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
	"github.com/propfin/loanagent/internal/recovery"
	"github.com/propfin/loanagent/internal/scheduler"
	"github.com/propfin/loanagent/internal/store"
	"github.com/propfin/loanagent/internal/twiliowhatsapp"
	"github.com/propfin/loanagent/internal/whatsapp"
)

// Defaults for the API server.
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Messaging channel selectors.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
	ChannelNone     = "none"
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr         string
	APIKey       string // Bearer token; empty disables auth
	OverlayDir   string // prompt overlay directory
	Channel      string // whatsapp, twilio, or none
	TemplateName string // follow-up template name, empty to always generate
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIKey enables Bearer token auth with the given key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithOverlayDir sets the prompt overlay directory.
func WithOverlayDir(dir string) Option {
	return func(o *Opts) { o.OverlayDir = dir }
}

// WithChannel selects the messaging backend: whatsapp, twilio, or none.
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// WithFollowUpTemplate prefers the named approved template for follow-up
// sends.
func WithFollowUpTemplate(name string) Option {
	return func(o *Opts) { o.TemplateName = name }
}

// Server exposes the HTTP surface over the dialogue engine.
type Server struct {
	orch    *dialogue.Orchestrator
	proc    *scheduler.Processor
	catalog *prompts.Catalog
	st      store.Store
	apiKey  string
	addr    string
}

// NewServer creates an API server over the given orchestrator, follow-up
// processor, and catalog.
func NewServer(orch *dialogue.Orchestrator, proc *scheduler.Processor, catalog *prompts.Catalog, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		orch:    orch,
		proc:    proc,
		catalog: catalog,
		st:      orch.Store(),
		apiKey:  cfg.APIKey,
		addr:    cfg.Addr,
	}
}

// Handler returns the routed HTTP handler, with auth applied when an API key
// is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.healthHandler)
	mux.HandleFunc("POST /v1/messages", s.requireAuth(s.messagesHandler))
	mux.HandleFunc("GET /v1/profiles/{phone}", s.requireAuth(s.getProfileHandler))
	mux.HandleFunc("PUT /v1/profiles/{phone}/do-not-contact", s.requireAuth(s.doNotContactHandler))
	mux.HandleFunc("GET /v1/conversations/{phone}", s.requireAuth(s.listConversationHandler))
	mux.HandleFunc("POST /v1/conversations/{phone}/reset", s.requireAuth(s.resetConversationHandler))
	mux.HandleFunc("POST /v1/followups/process", s.requireAuth(s.processFollowUpsHandler))
	mux.HandleFunc("POST /v1/prompts/reload", s.requireAuth(s.reloadPromptsHandler))
	return mux
}

// requireAuth wraps a handler with Bearer token auth when a key is set.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.apiKey == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			slog.Warn("Server.requireAuth: rejected request", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next(w, r)
	}
}

// Run bootstraps the whole application: store, dialogue engine, messaging
// channel, background jobs, recovery, and finally the HTTP server. It blocks
// until SIGINT or SIGTERM.
func Run(stateDir string, waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, Channel: ChannelWhatsApp}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	lock, err := lockfile.AcquireLock(stateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire state directory lock: %w", err)
	}
	defer lock.Release()

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize generation client: %w", err)
	}

	catalog, err := prompts.NewCatalog(cfg.OverlayDir)
	if err != nil {
		return fmt.Errorf("failed to load prompt catalog: %w", err)
	}

	orch := dialogue.NewOrchestrator(st, gaClient, catalog)

	msgService, err := buildMessagingService(cfg.Channel, waOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msgService.Stop()

	messaging.NewDispatcher(msgService, orch).Start(ctx)

	var procOpts []scheduler.ProcessorOption
	if cfg.TemplateName != "" {
		procOpts = append(procOpts, scheduler.WithTemplateName(cfg.TemplateName))
	}
	proc := scheduler.NewProcessor(st, orch, msgService, procOpts...)

	rec := recovery.NewManager()
	rec.Register("followups", recovery.FollowUpRequeueHook(st, recovery.DefaultStaleAfter))
	if err := rec.RecoverAll(ctx); err != nil {
		slog.Error("Run: recovery finished with errors", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	retention := scheduler.NewRetention(st)
	if err := sched.AddJob(scheduler.FollowUpSweepSpec, func() {
		if _, err := proc.ProcessDueFollowUps(ctx); err != nil {
			slog.Error("Run: follow-up sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule follow-up sweep: %w", err)
	}
	if err := sched.AddJob(scheduler.RetentionSpec, func() {
		if err := retention.Run(); err != nil {
			slog.Error("Run: retention job failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention job: %w", err)
	}

	server := NewServer(orch, proc, catalog, apiOpts...)
	mux := server.Handler().(*http.ServeMux)
	if twilioSvc, ok := msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("POST /webhook/twilio", twilioSvc.WebhookHandler)
	}

	httpServer := &http.Server{Addr: server.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", server.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutting down on signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

// buildMessagingService constructs the selected messaging backend. The
// "none" channel uses a mock sender so the follow-up pipeline still runs in
// API-only deployments.
func buildMessagingService(channel string, waOpts []whatsapp.Option) (messaging.Service, error) {
	switch channel {
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case ChannelNone:
		slog.Info("Messaging channel disabled, outbound sends are no-ops")
		return messaging.NewWhatsAppService(whatsapp.NewMockClient()), nil
	case ChannelWhatsApp, "":
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown messaging channel %q", channel)
	}
}
