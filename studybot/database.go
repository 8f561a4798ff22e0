package studybot

import (
	"context"
	crand "crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite                 = "sqlite"
	dbTypePostgres               = "postgres"
	postgresNotifyChannelStop    = "studybot_stop"
	postgresNotifyChannelVCSweep = "studybot_vc_sweep"
	shortIDMaxAttempts           = 25
	errShortIDExhaustedFmt       = "could not find a free id after %d attempts"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// database wraps the GORM connection and implements [Store].
//
// When concurrent writes are disabled (SQLite), a mutex serializes write
// operations. Every operation applies a default timeout when the incoming
// context has no deadline.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase wraps an existing GORM connection in a [Store].
// enableConcurrentWrites should be false for SQLite.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) Store {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// opContext applies the default operation timeout when ctx has no deadline.
func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		rv := db.Omit(omit...).Create(value)
		return rv.RowsAffected, rv.Error
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	if len(omit) > 0 {
		rv := d.db.WithContext(ctx).Omit(omit...).Save(value)
		return rv.RowsAffected, rv.Error
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	ctx context.Context,
	model any,
	values map[string]any,
	query any,
	conds ...any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Where(query, conds...).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	ctx context.Context,
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

// createWithShortID inserts value after assigning it a fresh short ID via
// assign. On a duplicate-key error the ID is regenerated and the insert
// retried, up to shortIDMaxAttempts. Returns the ID that stuck.
//
// ID uniqueness is enforced by the primary key constraint rather than a
// pre-insert scan, so concurrent writers can never race to the same ID.
func (d *database) createWithShortID(
	ctx context.Context,
	value any,
	assign func(id string),
) (string, error) {
	for attempt := 0; attempt < shortIDMaxAttempts; attempt++ {
		id := newShortID()
		assign(id)
		_, err := d.Create(ctx, value)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			d.logger.Debug(
				"short id collision, regenerating",
				"id", id,
				"attempt", attempt,
			)
			continue
		}
		return "", err
	}
	return "", fmt.Errorf(errShortIDExhaustedFmt, shortIDMaxAttempts)
}

// Store defines the data access surface. This is here primarily to enable
// mocking for testing; [database] implements it for 'real' DB operations.
type Store interface {
	Lock()
	Unlock()
	DB() *gorm.DB

	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	UpdatesWhere(
		ctx context.Context,
		model any,
		values map[string]any,
		query any,
		conds ...any,
	) (rowsAffected int64, err error)

	// Resources

	GetResource(ctx context.Context, resourceID string) (*Resource, error)
	ServeResources(ctx context.Context, tag string, search string) (
		[]*discordgo.ApplicationCommandOptionChoice,
		error,
	)
	AverageRating(ctx context.Context, resourceID string) (
		avg float64,
		rated bool,
		err error,
	)
	HasRated(ctx context.Context, resourceID string, reviewerID string) (bool, error)
	RateResource(
		ctx context.Context,
		resourceID string,
		reviewerID string,
		rating int,
		comment string,
	) (bool, error)
	AddTemporaryResource(ctx context.Context, resource *Resource) (string, error)
	ApproveTemporaryResource(ctx context.Context, resourceID string, staffID string) (bool, error)
	DeclineTemporaryResource(ctx context.Context, resourceID string, staffID string) (bool, error)
	DeleteResource(ctx context.Context, resourceID string, staffID string) (bool, error)
	EditTitle(ctx context.Context, resourceID string, staffID string, title string) (bool, error)
	EditTag(ctx context.Context, resourceID string, staffID string, tag string) (bool, error)
	EditDescription(
		ctx context.Context,
		resourceID string,
		staffID string,
		description string,
	) (bool, error)
	EditURL(ctx context.Context, resourceID string, staffID string, url string) (bool, error)
	EditAuthor(
		ctx context.Context,
		resourceID string,
		staffID string,
		authorID string,
	) (bool, error)
	ActiveResourceCountByUser(ctx context.Context, userID string) (int64, error)
	TotalResourceCountByUser(ctx context.Context, userID string) (int64, error)
	AverageRatingByUser(ctx context.Context, userID string) (
		avg float64,
		rated bool,
		err error,
	)
	ReviewCountByUser(ctx context.Context, userID string) (int64, error)
	CheckDuplicate(ctx context.Context, field string, value string) (bool, error)

	// Users

	InitializeUser(ctx context.Context, u discordgo.User) (*User, bool, error)
	GetSupportPoints(ctx context.Context, userID string) (int, error)
	AddSupportPoints(ctx context.Context, userID string, points int) error
	TopUsers(ctx context.Context, limit int) ([]User, error)
	LeaderboardPosition(ctx context.Context, userID string) (int64, error)
	TotalUsers(ctx context.Context) (int64, error)
	SetUserPronouns(ctx context.Context, userID string, pronouns string) error
	UserPronouns(ctx context.Context, userID string) (string, error)
	LockStudyMode(ctx context.Context, userID string) error
	UnlockStudyMode(ctx context.Context, userID string) error
	IsStudyModeLocked(ctx context.Context, userID string) (bool, error)
	TouchLastActive(ctx context.Context, userID string) error
	SetBookmark(ctx context.Context, userID string, bookmark datatypes.JSON) error
	Bookmark(ctx context.Context, userID string) (datatypes.JSON, error)

	// Doubts

	AddDoubt(ctx context.Context, doubt *Doubt) (string, error)
	GetDoubt(ctx context.Context, doubtID string) (*Doubt, error)
	EditDoubtDescription(ctx context.Context, doubtID string, description string) (bool, error)
	DeleteDoubt(ctx context.Context, doubtID string) (bool, error)
	MarkDoubtSolved(
		ctx context.Context,
		doubtID string,
		solverID string,
		messageID string,
		channelID string,
	) (bool, error)
	UndoSolveDoubt(ctx context.Context, doubtID string) (bool, error)
	LastDoubtAsked(ctx context.Context, authorID string) (int64, error)
	CheckCooldown(ctx context.Context, authorID string, window time.Duration) (bool, error)
	SearchDoubts(ctx context.Context, subject string, grade string, keyword string) (
		[]Doubt,
		error,
	)
	DoubtsForArchive(ctx context.Context, before int64) ([]Doubt, error)
	UserDoubtCount(ctx context.Context, authorID string) (int64, error)

	// Private voice channels

	SetPrivateVC(ctx context.Context, channelID string, ownerID string) error
	IsPrivateVC(ctx context.Context, channelID string) (bool, error)
	PrivateVCOwner(ctx context.Context, channelID string) (string, error)
	DeletePrivateVC(ctx context.Context, channelID string) error
	PrivateVCByOwner(ctx context.Context, ownerID string) (*PrivateVC, error)
	AllPrivateVCs(ctx context.Context) ([]PrivateVC, error)
}

// CreateDB initializes a GORM connection for the given database type
// ('sqlite' or 'postgres') and auto-migrates the schema in a transaction.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&User{},
		&Resource{},
		&Review{},
		&Doubt{},
		&PrivateVC{},
	)
	if err != nil {
		if rollbackErr := txn.Rollback().Error; rollbackErr != nil {
			dbLogger.ErrorContext(
				ctx,
				"error rolling back migration",
				tint.Err(rollbackErr),
			)
		}
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB opens a GORM connection. TranslateError is enabled so duplicate-key
// violations surface as [gorm.ErrDuplicatedKey] regardless of driver, which
// the short-ID retry loop depends on.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(sqlite.Open(database), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, err)
			}
		}
		return db, nil
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

func generateRandomHexString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := crand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// DBNotifier propagates stop and sweep signals between bot instances
// sharing a database. The postgres implementation uses LISTEN/NOTIFY so an
// API-only instance can signal the instance holding the gateway connection;
// the sqlite implementation sends on in-process channels.
type DBNotifier interface {
	StopChannelName() string

	// Stop sends a shutdown signal to all bot instances
	Stop(context.Context) bool

	VCSweepChannelName() string

	// TriggerVCSweep asks the gateway-owning instance to run a private
	// voice channel reconciliation sweep
	TriggerVCSweep(context.Context) bool

	// ID returns the identifier for this notifier. DBNotifier instances
	// should use this ID to filter out their own notifications.
	ID() string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(b *StudyBot) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := b.logger.With(loggerNameKey, "db_notifier")
	var notifier DBNotifier
	switch b.config.DatabaseType {
	case dbTypeSQLite:
		notifier = &sqliteNotifier{
			logger:         log,
			bot:            b,
			sqliteNotifyID: notifyID,
		}
	case dbTypePostgres:
		notifier = &postgresNotifier{
			bot:        b,
			logger:     log,
			pgNotifyID: notifyID,
		}
	default:
		return nil, errors.New("invalid database type")
	}
	return notifier, nil
}

type sqliteNotifier struct {
	logger         *slog.Logger
	bot            *StudyBot
	sqliteNotifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (sqliteNotifier) StopChannelName() string {
	return ""
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.bot.signalStop <- struct{}{}:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

func (sqliteNotifier) VCSweepChannelName() string {
	return ""
}

func (s *sqliteNotifier) TriggerVCSweep(ctx context.Context) bool {
	s.logger.Info("got vc sweep notification")
	select {
	case s.bot.triggerVCSweepCh <- true:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending vc sweep signal")
		return false
	}
	return true
}

func (s *sqliteNotifier) ID() string {
	return s.sqliteNotifyID
}

type postgresNotifier struct {
	bot        *StudyBot
	logger     *slog.Logger
	pgNotifyID string
}

func (p *postgresNotifier) ID() string {
	return p.pgNotifyID
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (postgresNotifier) VCSweepChannelName() string {
	return postgresNotifyChannelVCSweep
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	var sent bool

	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.StopChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(ctx, "Error sending NOTIFY to stop bot", tint.Err(notifyErr))
	} else {
		p.logger.Info("sent stop signal", "pg_notify_id", p.ID())
		sent = true
	}

	return sent
}

func (p *postgresNotifier) TriggerVCSweep(ctx context.Context) bool {
	var sent bool

	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.VCSweepChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to trigger vc sweep",
			tint.Err(notifyErr),
		)
	} else {
		p.logger.Info("sent vc sweep notification", "pg_notify_id", p.ID())
		sent = true
	}

	select {
	case p.bot.triggerVCSweepCh <- true:
	//
	case <-ctx.Done():
		p.logger.Warn("timeout sending local vc sweep signal")
	}

	return sent
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.bot.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second) // Wait before retrying
			continue
		}
		if notification.Payload == p.ID() {
			logger.Info(
				"Received notification from self, ignoring",
				"payload",
				notification.Payload,
			)
			continue
		}

		switch channel {
		case p.VCSweepChannelName():
			logger.InfoContext(ctx, "Received notification to run vc sweep")
			select {
			case p.bot.triggerVCSweepCh <- true:
				logger.Info("sent vc sweep signal from postgres listener")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending vc sweep signal")
			}
		case p.StopChannelName():
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			select {
			case p.bot.signalStop <- struct{}{}:
				logger.Info("forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("Received unknown notification", "channel", notification.Channel)
		}
	}

	return nil
}
