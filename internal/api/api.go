// Package api provides the HTTP server and runtime wiring for SalesPipe.
//
// It exposes the Twilio inbound webhook plus a small admin surface for
// summaries, statistics, the operator bot toggle, and conversation history.
// NewServer assembles the conversation core around the provided store,
// completion client, and messaging transport; Run starts the responder loop,
// the periodic sweep, and the HTTP listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/valueplus/salespipe/internal/convo"
	"github.com/valueplus/salespipe/internal/genai"
	"github.com/valueplus/salespipe/internal/messaging"
	"github.com/valueplus/salespipe/internal/scheduler"
	"github.com/valueplus/salespipe/internal/store"
)

const (
	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	Store      store.Store
	GenAI      genai.ClientInterface
	MsgService messaging.Service
	Policy     *convo.PolicyConfig
	// Webhook is mounted at POST /webhook when set. The Twilio transport
	// provides it; the whatsmeow transport delivers events directly and
	// leaves it nil.
	Webhook http.HandlerFunc
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore sets the backing store for customers and summaries.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithGenAIClient sets the completion and summarization client.
func WithGenAIClient(c genai.ClientInterface) Option {
	return func(o *Opts) { o.GenAI = c }
}

// WithMessagingService sets the message transport.
func WithMessagingService(s messaging.Service) Option {
	return func(o *Opts) { o.MsgService = s }
}

// WithPolicyConfig overrides the default conversation policy.
func WithPolicyConfig(cfg convo.PolicyConfig) Option {
	return func(o *Opts) { o.Policy = &cfg }
}

// WithWebhookHandler mounts an inbound webhook at POST /webhook.
func WithWebhookHandler(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// Server owns the assembled conversation core and its HTTP surface.
type Server struct {
	addr       string
	st         store.Store
	customers  *convo.CustomerStore
	orch       *convo.Orchestrator
	summarizer *convo.Summarizer
	sweeper    *convo.Sweeper
	msgService messaging.Service
	webhook    http.HandlerFunc
	sched      *scheduler.Scheduler
	cfg        convo.PolicyConfig
	httpServer *http.Server
}

// NewServer assembles the conversation core from the given options. Store,
// GenAI client, and messaging service are required.
func NewServer(options ...Option) (*Server, error) {
	var opts Opts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if opts.GenAI == nil {
		return nil, errors.New("api: genai client is required")
	}
	if opts.MsgService == nil {
		return nil, errors.New("api: messaging service is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	cfg := convo.DefaultPolicyConfig()
	if opts.Policy != nil {
		cfg = *opts.Policy
	}

	customers := convo.NewCustomerStore(opts.Store)
	summarizer := convo.NewSummarizer(opts.Store, opts.GenAI, cfg)
	orch := convo.NewOrchestrator(customers, opts.GenAI, summarizer, cfg)
	sweeper := convo.NewSweeper(customers, summarizer, cfg)

	return &Server{
		addr:       opts.Addr,
		st:         opts.Store,
		customers:  customers,
		orch:       orch,
		summarizer: summarizer,
		sweeper:    sweeper,
		msgService: opts.MsgService,
		webhook:    opts.Webhook,
		sched:      scheduler.NewScheduler(),
		cfg:        cfg,
	}, nil
}

// Run starts the responder loop, the periodic sweep, and the HTTP listener.
// It blocks until the context is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.customers.LoadAll(); err != nil {
		slog.Warn("Server.Run: customer recovery failed, starting with empty registry", "error", err)
	}

	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if err := s.msgService.Stop(); err != nil {
			slog.Warn("Server.Run: failed to stop messaging service", "error", err)
		}
	}()

	responder := messaging.NewResponder(s.msgService, s.orch)
	go responder.Run(ctx)
	go s.drainReceipts(ctx)

	if err := s.sched.AddJob(s.cfg.SweepSpec, func() {
		s.sweeper.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", s.cfg.SweepSpec, err)
	}
	defer s.sched.Stop()

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.routes()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: HTTP server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server.Run: HTTP shutdown failed", "error", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/summaries", s.summariesHandler)
	mux.HandleFunc("/summaries/", s.summariesHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/customers/", s.customersHandler)
	if s.webhook != nil {
		mux.HandleFunc("/webhook", s.webhook)
	}
	return mux
}

// drainReceipts logs delivery status events so the transport's receipt
// channel never fills up.
func (s *Server) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-s.msgService.Receipts():
			if !ok {
				return
			}
			slog.Debug("Server: delivery receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}
