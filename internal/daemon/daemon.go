package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/confer/internal/config"
	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/agent"
	"github.com/harun/confer/pkg/commandqueue"
	"github.com/harun/confer/pkg/completion"
	"github.com/harun/confer/pkg/coretools"
	"github.com/harun/confer/pkg/gateway"
	"github.com/harun/confer/pkg/prompts"
	"github.com/harun/confer/pkg/session"
	"github.com/harun/confer/pkg/toolexecutor"
)

// Daemon owns the chat service components and their lifecycle
type Daemon struct {
	config     *config.Config
	logger     zerolog.Logger
	baseLogger zerolog.Logger

	queue    *commandqueue.CommandQueue
	store    session.Store
	sweeper  *session.Sweeper
	limiter  *gateway.RateLimiter
	tools    *toolexecutor.Registry
	prompt   prompts.Source
	provider completion.Provider

	gatewayServer *gateway.Server
	lifecycle     *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a running or stopped daemon
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Clients   int           `json:"clients"`
}

var newProvider = func(cfg *config.Config, logger zerolog.Logger) (completion.Provider, error) {
	backend, err := completion.NewBackend(cfg.Provider.Name, completion.BackendOptions{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		MaxRetries:  cfg.Provider.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	return completion.NewAdapter(backend,
		completion.WithTimeout(cfg.ProviderTimeout()),
		completion.WithLogger(logger),
	), nil
}

// New creates a daemon. Nothing listens until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config:     cfg,
		logger:     logger.With().Str("component", "daemon").Logger(),
		baseLogger: logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.logger.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, d.logger)

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	store, err := session.OpenStore(session.StoreConfig{
		Backend:       d.config.Store.Backend,
		Path:          d.config.Store.Path,
		RedisAddr:     d.config.Store.RedisAddr,
		RedisPassword: d.config.Store.RedisPassword,
		RedisDB:       d.config.Store.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("backend", d.config.Store.Backend).Msg("Session store opened")

	// Redis expires keys on its own
	if purger, ok := store.(session.Purger); ok {
		sweeper, err := session.NewSweeper(purger, d.config.Store.SweepSchedule)
		if err != nil {
			return err
		}
		d.sweeper = sweeper
	}

	if d.config.RateLimit.Enabled {
		d.limiter = gateway.NewRateLimiter(d.config.RateLimit.Limit, d.config.RateWindow())
	}

	d.queue = commandqueue.New()

	d.tools = toolexecutor.NewRegistry(
		toolexecutor.WithPolicy(&toolexecutor.ToolPolicy{
			Allow: d.config.Tools.Allow,
			Deny:  d.config.Tools.Deny,
		}),
		toolexecutor.WithDefaultTimeout(d.config.ToolTimeout()),
		toolexecutor.WithLogger(d.baseLogger),
	)
	if err := coretools.Register(d.tools, coretools.Options{
		VectorServiceURL: d.config.Tools.DocumentServiceURL,
		SearchServiceURL: d.config.Tools.SearchServiceURL,
		TopK:             d.config.Tools.TopK,
		Timeout:          d.config.ToolTimeout(),
	}); err != nil {
		return err
	}
	d.logger.Info().Strs("tools", d.tools.Names()).Msg("Tools registered")

	prompt, err := d.loadPrompt()
	if err != nil {
		return err
	}
	d.prompt = prompt

	provider, err := newProvider(d.config, d.baseLogger)
	if err != nil {
		return fmt.Errorf("failed to create completion provider: %w", err)
	}
	d.provider = provider

	return nil
}

func (d *Daemon) loadPrompt() (prompts.Source, error) {
	if path := d.config.Agent.SystemPromptFile; path != "" {
		source, err := prompts.NewFileSource(prompts.FileSourceConfig{Path: path})
		if err != nil {
			return nil, fmt.Errorf("failed to load system prompt: %w", err)
		}
		if err := source.Watch(); err != nil {
			d.logger.Warn().Err(err).Msg("Prompt file will not be reloaded on change")
		}
		return source, nil
	}
	if text := strings.TrimSpace(d.config.Agent.SystemPrompt); text != "" {
		return prompts.Static(text), nil
	}
	return prompts.Default(), nil
}

func (d *Daemon) initializeServices() error {
	gatewayCfg := gateway.Config{
		Addr:       d.config.Addr(),
		Queue:      d.queue,
		Store:      d.store,
		SessionTTL: d.config.SessionTTL(),
		NewAgent:   d.NewAgent,
		ReadLimit:  d.config.Server.ReadLimit,
		Logger:     &d.baseLogger,
	}
	if d.limiter != nil {
		gatewayCfg.Limiter = d.limiter
	}

	server, err := gateway.NewServer(gatewayCfg)
	if err != nil {
		return err
	}
	d.gatewayServer = server
	return nil
}

// NewAgent builds a conversation agent over the shared provider, tools and prompt
func (d *Daemon) NewAgent(logger zerolog.Logger) (session.Chatter, error) {
	a, err := agent.New(agent.Options{
		Config:   agent.Config{MaxDepth: d.config.Agent.MaxDepth},
		Provider: d.provider,
		Tools:    d.tools,
		Prompt:   d.prompt,
		Logger:   &logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Store returns the session store
func (d *Daemon) Store() session.Store {
	return d.store
}

// Limiter returns the question rate limiter, or nil when rate limiting is off
func (d *Daemon) Limiter() session.Limiter {
	if d.limiter == nil {
		return nil
	}
	return d.limiter
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	d.logger.Info().Str("addr", d.config.Addr()).Msg("Starting confer daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.sweeper != nil {
		if err := d.sweeper.Start(); err != nil {
			d.lifecycle.Stop()
			return fmt.Errorf("failed to start session sweeper: %w", err)
		}
	}

	if err := d.gatewayServer.Start(); err != nil {
		if d.sweeper != nil {
			d.sweeper.Stop()
		}
		d.lifecycle.Stop()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	if d.limiter != nil {
		d.wg.Add(1)
		go d.pruneLimiter()
	}

	d.running = true
	d.startTime = time.Now()

	d.logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) pruneLimiter() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RateWindow())
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if pruned := d.limiter.Prune(); pruned > 0 {
				d.logger.Debug().Int("pruned", pruned).Msg("Pruned idle rate limit buckets")
			}
		}
	}
}

// Stop gracefully stops the daemon
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}

	d.logger.Info().Msg("Stopping confer daemon")

	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout())
	defer cancel()

	// Connections drain first so in-flight turns can persist
	if err := d.gatewayServer.Stop(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.sweeper != nil {
		if err := d.sweeper.Stop(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.release()

	d.running = false
	d.logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases the components of a daemon that was never started
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is running, use Stop")
	}
	d.release()
	return nil
}

// release must be called with mu held or before the daemon is shared
func (d *Daemon) release() {
	d.cancel()
	d.wg.Wait()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close command queue")
		}
		d.queue = nil
	}

	if closer, ok := d.prompt.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close prompt watcher")
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close session store")
		}
		d.store = nil
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
		status.Clients = len(d.gatewayServer.GetConnectedClients())
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
