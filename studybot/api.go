package studybot

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	apiPrefix               = "/api"
	apiHealthCheck          = "/healthz"
	apiPathStats            = "/stats"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathVCSweep          = "/vc_sweep"
	apiPathDoubtArchive     = "/doubts/archive"
	apiPathLeaderboard      = "/leaderboard"
	apiPathRegisterCommands = "/discord/register_commands"
	pprofPrefix             = "/debug/pprof"

	xRequestIDHeader = "X-Request-ID"
)

var (
	structValidator = validator.New(validator.WithRequiredStructEnabled())
)

// API is the bot's backend status server: health, stats, and operational
// controls (pause/resume/quit, sweep trigger, command re-registration).
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex
	logger           *slog.Logger

	handlers *APIHandlers
}

func newAPI(b *StudyBot, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, fmt.Errorf("nil api config")
	}
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
	}
	api.logger = setupLogger.With(loggerNameKey, "api")
	api.handlers = NewAPIHandlers(b)

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer

	r.Use(gin.Recovery())
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)
	ginPprof.Register(r, pprofPrefix)

	group := r.Group(apiPrefix)
	group.GET(apiPathStats, api.handlers.getStats)
	group.POST(apiPathPause, api.handlers.botPause)
	group.POST(apiPathResume, api.handlers.botResume)
	group.POST(apiPathQuit, api.handlers.botQuit)
	group.POST(apiPathVCSweep, api.handlers.triggerVCSweep)
	group.GET(apiPathDoubtArchive, api.handlers.getDoubtArchive)
	group.GET(apiPathLeaderboard, api.handlers.getLeaderboard)
	group.POST(apiPathRegisterCommands, api.handlers.discordRegisterCommands)

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, e)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

// APIHandlers holds the request handlers for [API] endpoints.
type APIHandlers struct {
	bot    *StudyBot
	logger *slog.Logger
}

func NewAPIHandlers(b *StudyBot) *APIHandlers {
	return &APIHandlers{
		bot:    b,
		logger: b.logger.With(loggerNameKey, "api_handlers"),
	}
}

type healthCheckResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	StartedAt string `json:"started_at"`
	Paused    bool   `json:"paused"`
	Ready     bool   `json:"ready"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Status:    "ok",
			Version:   Version,
			StartedAt: h.bot.startedAt.Format(time.RFC3339),
			Paused:    h.bot.paused.Load(),
			Ready:     h.bot.eventReady.Load(),
		},
	)
}

type statsResponse struct {
	Version          string `json:"version"`
	StartedAt        string `json:"started_at"`
	Paused           bool   `json:"paused"`
	Connected        bool   `json:"connected"`
	Commands         int    `json:"commands"`
	TotalUsers       int64  `json:"total_users"`
	TrackedVoiceChan int    `json:"tracked_voice_channels"`
}

func (h *APIHandlers) getStats(c *gin.Context) {
	ctx := c.Request.Context()
	totalUsers, err := h.bot.writeDB.TotalUsers(ctx)
	if err != nil {
		ginContextLogger(c).Error("error counting users", tint.Err(err))
		ginReplyError(c, "error gathering stats")
		return
	}
	vcs, err := h.bot.writeDB.AllPrivateVCs(ctx)
	if err != nil {
		ginContextLogger(c).Error("error listing private vcs", tint.Err(err))
		ginReplyError(c, "error gathering stats")
		return
	}

	c.JSON(
		http.StatusOK, statsResponse{
			Version:          Version,
			StartedAt:        h.bot.startedAt.Format(time.RFC3339),
			Paused:           h.bot.paused.Load(),
			Connected:        h.bot.discord.connected.Load(),
			Commands:         h.bot.registry.Len(),
			TotalUsers:       totalUsers,
			TrackedVoiceChan: len(vcs),
		},
	)
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.bot.Pause(c.Request.Context()) {
		ginReplyMessage(c, "paused")
		return
	}
	ginReplyMessage(c, "already paused")
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.bot.Resume(c.Request.Context()) {
		ginReplyMessage(c, "resumed")
		return
	}
	ginReplyMessage(c, "not paused")
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("received quit request")
	go func() {
		ctx, cancel := context.WithTimeout(
			context.Background(),
			dbNotifierSendTimeout,
		)
		defer cancel()
		if !h.bot.dbNotifier.Stop(ctx) {
			logger.Error("failed to send stop signal")
		}
	}()
	ginReplyMessage(c, "stopping")
}

func (h *APIHandlers) triggerVCSweep(c *gin.Context) {
	ctx, cancel := context.WithTimeout(
		c.Request.Context(),
		dbNotifierSendTimeout,
	)
	defer cancel()
	if !h.bot.dbNotifier.TriggerVCSweep(ctx) {
		ginReplyError(c, "failed to trigger sweep")
		return
	}
	ginReplyMessage(c, "sweep triggered")
}

// getDoubtArchive returns solved doubts whose solve time predates the
// `before` query parameter (epoch seconds, default: now).
func (h *APIHandlers) getDoubtArchive(c *gin.Context) {
	before := time.Now().UTC().Unix()
	if raw := c.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(
				http.StatusBadRequest,
				httpError{Error: "invalid 'before' timestamp"},
			)
			return
		}
		before = parsed
	}
	doubts, err := h.bot.writeDB.DoubtsForArchive(c.Request.Context(), before)
	if err != nil {
		ginContextLogger(c).Error("error fetching doubt archive", tint.Err(err))
		ginReplyError(c, "error fetching doubt archive")
		return
	}
	c.JSON(http.StatusOK, gin.H{"doubts": doubts})
}

// leaderboardEntry is one row of the leaderboard response: a user's
// support points plus their contribution counts.
type leaderboardEntry struct {
	UserID        string `json:"user_id"`
	SupportPoints int    `json:"support_points"`
	Resources     int64  `json:"resources"`
	Reviews       int64  `json:"reviews"`
	Doubts        int64  `json:"doubts"`
}

// getLeaderboard returns the top users by support points, with per-user
// contribution counts gathered concurrently.
func (h *APIHandlers) getLeaderboard(c *gin.Context) {
	limit := DefaultTopUserCount
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.AbortWithStatusJSON(
				http.StatusBadRequest,
				httpError{Error: "invalid 'limit'"},
			)
			return
		}
		limit = parsed
	}
	users, err := h.bot.writeDB.TopUsers(c.Request.Context(), limit)
	if err != nil {
		ginContextLogger(c).Error("error fetching top users", tint.Err(err))
		ginReplyError(c, "error fetching leaderboard")
		return
	}

	entries := make([]leaderboardEntry, len(users))
	g, ctx := errgroup.WithContext(c.Request.Context())
	for ind, u := range users {
		ind, u := ind, u
		g.Go(
			func() error {
				resources, e := h.bot.writeDB.ActiveResourceCountByUser(ctx, u.ID)
				if e != nil {
					return e
				}
				reviews, e := h.bot.writeDB.ReviewCountByUser(ctx, u.ID)
				if e != nil {
					return e
				}
				doubts, e := h.bot.writeDB.UserDoubtCount(ctx, u.ID)
				if e != nil {
					return e
				}
				entries[ind] = leaderboardEntry{
					UserID:        u.ID,
					SupportPoints: u.SupportPoints,
					Resources:     resources,
					Reviews:       reviews,
					Doubts:        doubts,
				}
				return nil
			},
		)
	}
	if e := g.Wait(); e != nil {
		ginContextLogger(c).Error("error gathering user stats", tint.Err(e))
		ginReplyError(c, "error fetching leaderboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	created, err := h.bot.registerSlashCommands()
	if err != nil {
		ginContextLogger(c).Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	names := make([]string, 0, len(created))
	for _, cmd := range created {
		names = append(names, cmd.Name)
	}
	c.JSON(http.StatusOK, gin.H{"registered": names})
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, echoed in the X-Request-ID response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path, and duration,
// plus any private gin errors attached along the way.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
