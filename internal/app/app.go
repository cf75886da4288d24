// Package app wires the daemon together: settings and secrets, storage,
// providers, the coordinator and the transports that feed it.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"pagechat/internal/channel"
	"pagechat/internal/config"
	"pagechat/internal/coordinator"
	"pagechat/internal/eventbus"
	"pagechat/internal/gateway"
	"pagechat/internal/llm"
	"pagechat/internal/metrics"
	"pagechat/internal/pagecapture"
	"pagechat/internal/persona"
	"pagechat/internal/router"
	"pagechat/internal/security"
	"pagechat/internal/store"
)

const dbFile = "pagechat.db"

// Options configures New.
type Options struct {
	// ConfigPath overrides ~/.pagechat/config.json.
	ConfigPath string
	// Secrets overrides the OS keyring / vault store.
	Secrets SecretStore
}

// App holds the application state.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	dataDir   string
	settings  *Settings
	bus       *eventbus.Bus
	store     store.Store
	personas  *persona.Catalog
	providers *llm.Registry
	coord     *coordinator.Coordinator
	router    *router.Router
	metrics   *metrics.Metrics
	capturer  *pagecapture.Capturer
	gateway   *gateway.Gateway
	chanMgr   *channel.Manager
	logs      logBuffer
	unsub     []func()

	closeOnce sync.Once
}

// New loads settings and builds every component. Nothing listens on the
// network until Start.
func New(opts Options) (*App, error) {
	loader, err := newLoader(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config loader: %w", err)
	}
	a := &App{
		dataDir: filepath.Dir(loader.FilePath()),
		bus:     eventbus.New(),
	}
	a.unsub = append(a.unsub, a.logs.subscribe(a.bus)...)

	secrets := opts.Secrets
	if secrets == nil {
		ks, err := security.NewKeyStore(a.dataDir, os.Getenv(security.VaultPasswordEnv))
		if err != nil {
			log.Printf("[app] warning: failed to create key store: %v (secrets will stay in config file)", err)
		} else {
			secrets = ks
		}
	}

	a.settings, err = LoadSettings(loader, secrets)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	cfg := a.settings.Settings()

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(a.dataDir, dbFile)
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.personas = persona.NewCatalog(st)
	a.providers = llm.NewRegistry(cfg.LLM)

	copts := coordinator.Options{
		Settings:      a.settings,
		Providers:     a.providers,
		Personas:      a.personas,
		Conversations: st,
		Bus:           a.bus,
	}
	if r := security.NewRedactor(cfg.Security.PIIFiltering); r != nil {
		copts.Redactor = r
	}
	if cfg.Browser.Enabled {
		a.capturer = pagecapture.New(cfg.Browser)
		copts.Capturer = a.capturer
	}
	a.coord = coordinator.New(copts)
	a.router = router.New(a.coord, a.personas, a.bus)

	a.metrics = metrics.New()
	a.metrics.Subscribe(a.bus)

	a.chanMgr = channel.NewManager(channel.NewBridge(a.router))
	return a, nil
}

func newLoader(path string) (*config.Loader, error) {
	if path != "" {
		return config.NewLoaderAt(path)
	}
	return config.NewLoader()
}

// Start serves the WebSocket gateway and starts the configured chat
// channels.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	cfg := a.settings.Settings()

	a.gateway = gateway.New(gateway.Options{
		Config:  cfg.Server,
		Router:  a.router,
		Status:  a.coord,
		Metrics: a.metrics.Handler(),
	})
	if err := a.gateway.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	if tg := cfg.Channels.Telegram; tg != nil && tg.Token != "" {
		a.chanMgr.Register(channel.NewTelegramChannel(channel.TelegramConfig{
			Token:      tg.Token,
			AllowedIDs: tg.AllowedIDs,
		}))
	}
	if err := a.chanMgr.StartAll(a.ctx); err != nil {
		a.bus.Publish(eventbus.TopicError, fmt.Errorf("start channels: %w", err))
	}

	a.bus.Publish(eventbus.TopicStatusChange, "pagechat listening on "+a.gateway.Addr())
	return nil
}

// StartConsole runs the console origin on in/out. The returned channel is
// closed when in reaches EOF.
func (a *App) StartConsole(ctx context.Context, in io.Reader, out io.Writer) (<-chan struct{}, error) {
	if a.ctx == nil {
		a.ctx, a.cancel = context.WithCancel(ctx)
	}
	console := channel.NewConsoleChannel(in, out)
	a.chanMgr.Register(console)
	if err := a.chanMgr.StartAll(a.ctx); err != nil {
		return nil, err
	}
	return console.Done(), nil
}

// Shutdown cancels every stream and releases resources.
func (a *App) Shutdown(ctx context.Context) {
	a.closeOnce.Do(func() {
		if n := a.coord.CancelAll(); n > 0 {
			log.Printf("[app] cancelled %d active streams", n)
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.chanMgr.StopAll(ctx)
		if a.gateway != nil {
			if err := a.gateway.Shutdown(ctx); err != nil {
				log.Printf("[app] gateway shutdown: %v", err)
			}
		}
		a.router.Close()
		a.metrics.Close()
		for _, u := range a.unsub {
			u()
		}
		if a.capturer != nil {
			a.capturer.Close()
		}
		if err := a.store.Close(); err != nil {
			log.Printf("[app] close store: %v", err)
		}
	})
}

// Coordinator returns the streaming coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Router returns the request router.
func (a *App) Router() *router.Router { return a.router }

// Settings returns the settings store.
func (a *App) Settings() *Settings { return a.settings }

// Store returns the conversation store.
func (a *App) Store() store.Store { return a.store }

// Logs returns recent error and status events.
func (a *App) Logs() []LogEntry { return a.logs.list() }

// Addr returns the gateway address once started.
func (a *App) Addr() string {
	if a.gateway == nil {
		return ""
	}
	return a.gateway.Addr()
}

// ConfigSummary returns the settings with API keys masked.
func (a *App) ConfigSummary() map[string]any {
	cfg := a.settings.Settings()
	return map[string]any{
		"provider":       cfg.LLM.Provider,
		"model":          cfg.LLM.Model,
		"api_keys":       maskedKeys(cfg, security.MaskKey),
		"persona":        cfg.Chat.PersonaID,
		"addr":           cfg.Server.Addr,
		"has_telegram":   cfg.Channels.Telegram != nil && cfg.Channels.Telegram.Token != "",
		"pii_filtering":  cfg.Security.PIIFiltering.Enabled,
		"page_capture":   cfg.Browser.Enabled,
		"providers":      a.providers.Names(),
		"active_streams": a.coord.ActiveCount(),
	}
}
