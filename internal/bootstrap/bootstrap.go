package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/bot"
	"github.com/Tanmayop9/discord-antinuke/internal/commands"
	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/database"
	"github.com/Tanmayop9/discord-antinuke/internal/dispatcher"
	"github.com/Tanmayop9/discord-antinuke/internal/ingest"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/metrics"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
	"github.com/Tanmayop9/discord-antinuke/internal/notifier"
	"github.com/Tanmayop9/discord-antinuke/internal/supervisor"
	"github.com/Tanmayop9/discord-antinuke/internal/watchdog"
)

const (
	logMaxSize = 64 << 20
	logMaxAge  = 7 * 24 * time.Hour
)

// App is the application context. It owns every component; nothing in the
// process is reachable through package globals except the logger.
type App struct {
	Config      *config.Config
	Components  *Components
	initialized bool

	cancel   context.CancelFunc
	stopped  chan struct{}
	serveErr error
}

type Components struct {
	*Core

	DB       *database.Database
	Session  *bot.Session
	HTTPPool *dispatcher.HTTPPool
	REST     *dispatcher.RESTClient
	Commands *commands.Handler

	Watchdog  *watchdog.Watchdog
	Metrics   *metrics.Server
	Tree      *supervisor.Tree
	Stream    *notifier.IncidentStream
	Incidents *logging.IncidentLogger
	Deduper   *ingest.SharedDeduper
}

func New(cfg *config.Config) *App {
	return &App{Config: cfg}
}

func (a *App) Initialize() error {
	if a.Config == nil {
		return fmt.Errorf("no configuration: %w", models.ErrConfiguration)
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	if err := a.initializeLogging(); err != nil {
		return fmt.Errorf("logging init failed: %w", err)
	}

	if err := a.wireComponents(); err != nil {
		return fmt.Errorf("component wiring failed: %w", err)
	}

	a.initialized = true
	logging.Info("[BOOT] Bootstrap complete")
	return nil
}

func (a *App) initializeLogging() error {
	rotation := logging.NewLogRotation(logMaxSize, logMaxAge)
	for _, path := range []string{a.Config.Logging.Path, a.Config.Logging.IncidentLog} {
		rotated, err := rotation.Prepare(path)
		if err != nil {
			return err
		}
		if rotated != "" {
			defer logging.Info("[BOOT] Rotated %s to %s", path, rotated)
		}
	}
	return logging.InitGlobalLogger(logging.ParseLevel(a.Config.Logging.Level), a.Config.Logging.Path)
}

func (a *App) wireComponents() error {
	cfg := a.Config
	c := &Components{}

	db, err := database.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.DB = db
	store := database.NewStore(db, defaultPunishment(cfg), cfg.AutosaveInterval())

	c.HTTPPool = dispatcher.NewHTTPPool(cfg.Network.HTTPPoolSize, nil)
	c.REST = dispatcher.NewRESTClient(c.HTTPPool, dispatcher.RESTConfig{
		BaseURL:           cfg.Network.APIBaseURL,
		Token:             cfg.Bot.Token,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		Burst:             cfg.Network.Burst,
	})

	session, err := bot.New(cfg.Bot.Token, c.REST)
	if err != nil {
		_ = db.Close()
		return err
	}
	c.Session = session

	if cfg.Logging.IncidentLog != "" {
		il, err := logging.NewIncidentLogger(cfg.Logging.IncidentLog)
		if err != nil {
			logging.Warn("[BOOT] Incident log unavailable: %v", err)
		} else {
			c.Incidents = il
		}
	}

	if len(cfg.Incidents.KafkaBrokers) > 0 {
		c.Stream = notifier.NewIncidentStream(cfg.Incidents.KafkaBrokers, cfg.Incidents.KafkaTopic)
		logging.Info("[BOOT] Publishing incidents to %s", cfg.Incidents.KafkaTopic)
	}

	deps := CoreDeps{
		Notifier:  notifier.New(session.Discord()),
		Stream:    c.Stream,
		Incidents: c.Incidents,
	}
	if cfg.HA.RedisURL != "" {
		ttl := time.Duration(cfg.HA.DedupTTLHours) * time.Hour
		deduper, err := ingest.NewSharedDeduper(cfg.HA.RedisURL, ttl)
		if err != nil {
			// A replica without shared dedup still works on its own.
			logging.Warn("[BOOT] Shared dedup disabled: %v", err)
		} else {
			c.Deduper = deduper
			deps.Claimer = deduper
		}
	}

	c.Core = WireCore(cfg, session, store, deps)
	session.OnReady(c.Core.SetSelfID)

	c.Commands = commands.NewHandler(store, c.Engine, db)
	session.AddHandler(c.Commands.HandleInteraction)

	c.Watchdog = watchdog.NewWatchdog(5 * time.Second)
	c.Watchdog.RegisterComponent("poller", 10*cfg.PollInterval())
	c.Watchdog.RegisterComponent("detection-loop", 3*time.Minute)
	c.Poller.SetHeartbeat(func() { c.Watchdog.Heartbeat("poller") })
	c.Guard.SetHeartbeat(func() { c.Watchdog.Heartbeat("detection-loop") })

	if cfg.Metrics.Enabled {
		c.Metrics = metrics.NewServer(cfg.Metrics.Addr, c.Watchdog.Report)
	}

	c.Tree = supervisor.NewTree(supervisor.DefaultTreeConfig())
	c.Tree.AddDetection(c.Poller)
	c.Tree.AddDetection(c.Guard)
	c.Tree.AddDetection(c.Sweeper)
	c.Tree.AddSupport(c.Store)
	c.Tree.AddSupport(c.Scheduler)
	c.Tree.AddSupport(c.Watchdog)
	if c.Metrics != nil {
		c.Tree.AddSupport(c.Metrics)
	}

	a.Components = c
	logging.Info("[BOOT] Component wiring complete")
	return nil
}

// Start connects to the gateway, registers commands and starts the
// supervised services. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	if !a.initialized {
		return errors.New("bootstrap not initialized")
	}
	c := a.Components

	if err := c.Session.Connect(); err != nil {
		return err
	}
	if err := c.Session.RegisterCommands(commands.GetAllCommands()); err != nil {
		logging.Error("[BOOT] Command registration failed: %v", err)
	}

	warm := c.HTTPPool.Warmup(a.Config.Network.APIBaseURL + "/gateway")
	logging.Info("[BOOT] HTTP pool warmed (%d/%d clients)", warm, c.HTTPPool.Size())

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	errc := c.Tree.ServeBackground(runCtx)
	a.stopped = make(chan struct{})
	go func() {
		a.serveErr = <-errc
		close(a.stopped)
	}()

	logging.Info("[BOOT] All components started")
	return nil
}

// Done is closed once the supervisor stops; Err then holds its result.
func (a *App) Done() <-chan struct{} {
	return a.stopped
}

func (a *App) Err() error {
	<-a.stopped
	return a.serveErr
}
