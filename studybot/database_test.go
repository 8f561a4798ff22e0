package studybot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestCreateDBMigrations(t *testing.T) {
	db := setupTestDB(t)

	for _, model := range []any{
		&User{},
		&Resource{},
		&Review{},
		&Doubt{},
		&PrivateVC{},
	} {
		assert.Truef(
			t,
			db.Migrator().HasTable(model),
			"expected migrated table for %T",
			model,
		)
	}
}

func TestCreateDBInvalidType(t *testing.T) {
	_, err := CreateDB(context.Background(), "mysql", "ignored")
	require.Error(t, err)
}

func TestCreateDBMigrationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate-fail.sqlite3")

	// a view squatting on a model's table name makes AutoMigrate fail
	seed, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, seed.Exec("CREATE VIEW users AS SELECT 1 AS id").Error)
	sqlDB, err := seed.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = CreateDB(context.Background(), dbTypeSQLite, path)
	require.Error(t, err)
}

func TestOpContext(t *testing.T) {
	ctx, cancel := opContext(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(dbOperationTimeout), deadline, time.Second)

	// an existing deadline is preserved
	parent, parentCancel := context.WithTimeout(context.Background(), time.Minute)
	defer parentCancel()
	ctx, cancel = opContext(parent)
	defer cancel()
	deadline, ok = ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestGenericStoreOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &User{ID: "user-1", SupportPoints: 5}
	rows, err := store.Create(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = store.Update(ctx, user, columnUserSupportPoints, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	points, err := store.GetSupportPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 9, points)

	rows, err = store.Delete(ctx, &User{}, "id = ?", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	points, err = store.GetSupportPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, points)
}

func TestGenerateRandomHexString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s, err := generateRandomHexString(32)
		require.NoError(t, err)

		// length is in bytes, hex-encoded
		assert.Len(t, s, 64)
		assert.Regexp(t, "^[0-9a-f]+$", s)
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestSQLiteNotifier(t *testing.T) {
	bot := newTestBot(t)
	bot.signalStop = make(chan struct{}, 1)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	assert.NotEmpty(t, notifier.ID())
	assert.Empty(t, notifier.StopChannelName())
	assert.Empty(t, notifier.VCSweepChannelName())

	ctx := context.Background()
	assert.True(t, notifier.Stop(ctx))
	select {
	case <-bot.signalStop:
	//
	default:
		t.Fatal("expected a stop signal")
	}

	assert.True(t, notifier.TriggerVCSweep(ctx))
	select {
	case <-bot.triggerVCSweepCh:
	//
	default:
		t.Fatal("expected a sweep trigger")
	}

	// Listen is a no-op for sqlite
	require.NoError(t, notifier.Listen(ctx, "anything"))
}
