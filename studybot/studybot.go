package studybot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// StudyBot is the main application struct. It owns the database, the
// Discord gateway connection, the command registry, and the status API.
type StudyBot struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, a mutex serializes writes; otherwise it's equivalent
	// to [StudyBot.db].
	writeDB Store

	logger     *slog.Logger
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// The explicit command set
	registry *CommandRegistry

	// Provides the back-end status API
	api *API

	dbNotifier DBNotifier

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting
	// everything up
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// triggerVCSweepCh requests a private voice channel reconciliation
	// sweep, on demand via the API or a NOTIFY from another instance
	triggerVCSweepCh chan bool

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot ignores incoming commands until resumed
	paused atomic.Bool

	// set once the gateway session has seen the ready event
	eventReady atomic.Bool

	// The time Run was called
	startedAt time.Time
}

// New creates a StudyBot from the given config, wiring up logging, the
// Discord session wrapper, the status API, and the full command set. The
// database connection is deferred until Run.
func New(config *Config) (*StudyBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &StudyBot{
		config:           config,
		signalReady:      make(chan struct{}, 1),
		eventShutdown:    make(chan struct{}, 1),
		triggerVCSweepCh: make(chan bool, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = b
		b.discord = disc
	}

	b.registry = NewCommandRegistry(b.logger)
	registerCommands(b)

	api, err := newAPI(b, config.API)
	errs = append(errs, err)
	b.api = api

	return b, errors.Join(errs...)
}

func (b *StudyBot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Paused reports whether command processing is currently paused.
func (b *StudyBot) Paused() bool {
	return b.paused.Load()
}

// Pause suspends command processing. Returns false if the bot was
// already paused.
func (b *StudyBot) Pause(ctx context.Context) bool {
	prev := b.paused.Swap(true)
	if prev {
		return false
	}
	if err := b.discord.session.UpdateCustomStatus("paused for maintenance"); err != nil {
		b.logger.ErrorContext(ctx, "unable to update status", tint.Err(err))
	}
	b.logger.InfoContext(ctx, "bot paused")
	return true
}

// Resume resumes command processing. Returns false if the bot wasn't
// paused.
func (b *StudyBot) Resume(ctx context.Context) bool {
	prev := b.paused.Swap(false)
	if !prev {
		b.logger.Warn("bot not paused")
		return false
	}
	if err := b.discord.updateCustomStatus(b.config.Discord.CustomStatus); err != nil {
		b.logger.ErrorContext(ctx, "unable to update status", tint.Err(err))
	}
	b.logger.InfoContext(ctx, "bot resumed")
	return true
}

// initDB opens the database connection, runs migrations, and wraps the
// connection in the write [Store].
func (b *StudyBot) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		b.logger,
		b.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

// initRun brings up everything Run needs before the gateway connection is
// considered live: the database, the discord session and its handlers,
// and the application command sync.
func (b *StudyBot) initRun(ctx context.Context) error {
	if err := b.initDB(ctx); err != nil {
		return err
	}

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session
	b.registerGatewayHandlers()

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = b.registerSlashCommands(); err != nil {
		return err
	}
	return nil
}

// Run starts the bot and blocks until the context is canceled or a stop
// signal arrives (interrupt, `/api/quit`, or a NOTIFY from another
// instance). It returns after a graceful shutdown.
func (b *StudyBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(b)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	b.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := b.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err = <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	runtimeWG := &sync.WaitGroup{}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.watchVCSweepTrigger(ctx)
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := b.dbNotifier.Listen(ctx, b.dbNotifier.StopChannelName()); e != nil {
			logger.ErrorContext(ctx, "error listening to stop channel", tint.Err(e))
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := b.dbNotifier.Listen(ctx, b.dbNotifier.VCSweepChannelName()); e != nil {
			logger.ErrorContext(ctx, "error listening to vc sweep channel", tint.Err(e))
		}
	}()

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return b.shutdown(runtimeWG)
}

// watchVCSweepTrigger runs a reconciliation sweep whenever one is
// requested via the trigger channel.
func (b *StudyBot) watchVCSweepTrigger(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.triggerVCSweepCh:
			if err := b.sweepPrivateVCs(ctx); err != nil {
				b.logger.ErrorContext(ctx, "vc sweep failed", tint.Err(err))
			}
		}
	}
}

// shutdown closes the gateway session and the API server, waiting up to
// ShutdownTimeout for runtime goroutines to finish.
func (b *StudyBot) shutdown(runtimeWG *sync.WaitGroup) error {
	b.logger.Warn("shutting down")
	defer func() {
		if b.eventShutdown != nil {
			go func() {
				b.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(b.config.ShutdownTimeout)
	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	if b.discord != nil && b.discord.session != nil {
		for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		b.discord.discordgoRemoveHandlerFuncs = nil
		if err := b.discord.session.Close(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	if b.api != nil && b.api.httpServer != nil {
		if err := b.api.httpServer.Shutdown(closeCtx); err != nil {
			b.logger.Error("error shutting down api server", tint.Err(err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		b.logger.Info(
			"shutdown complete",
			"duration", time.Since(shutdownStart),
		)
		return nil
	case <-closeCtx.Done():
		return fmt.Errorf("shutdown deadline exceeded")
	}
}
