package studybot

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "test.sqlite3")
	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		dbPath,
	)
	if err != nil {
		t.Fatalf("error creating test database: %v", err)
	}
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

// newTestStore returns a Store backed by a fresh SQLite database.
func newTestStore(t testing.TB) Store {
	t.Helper()
	return NewDatabase(setupTestDB(t), nil, false)
}

// newTestBot returns a StudyBot for testing, with a test-specific Config,
// an initialized SQLite database and a mocked Discord session.
func newTestBot(t testing.TB) *StudyBot {
	t.Helper()
	gin.DefaultWriter = io.Discard

	cfg := DefaultTestConfig(t)

	bot, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	require.NoError(t, bot.initDB(ctx))
	t.Cleanup(
		func() {
			sqlDB, _ := bot.db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	bot.discord.session = newMockDiscordSession()
	return bot
}

func TestNewInvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mongodb"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewRegistersCommands(t *testing.T) {
	bot := newTestBot(t)
	assert.Greater(t, bot.registry.Len(), 0)

	// the core text commands are present
	for _, name := range []string{
		"points",
		"thank",
		"submit",
		"rate",
		"ask",
		"voice",
		"profile",
	} {
		assert.NotNilf(
			t,
			bot.registry.Get(EventOnMessage, name),
			"expected onMessage command %q",
			name,
		)
	}
}

func TestValidateBotConfig(t *testing.T) {
	bot := newTestBot(t)
	require.NoError(t, bot.ValidateConfig())

	bot.config.Discord.ApplicationID = ""
	require.Error(t, bot.ValidateConfig())
}
