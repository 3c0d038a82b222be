package counters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Counter{}))
	return db
}

func TestGet_MissingCounterReadsAsZero(t *testing.T) {
	db := setupDB(t)

	c, err := Get(context.Background(), db, "YC26:attended")
	require.NoError(t, err)
	assert.Equal(t, "YC26:attended", c.Name)
	assert.Zero(t, c.Value)
	assert.Zero(t, c.Version)
}

func TestCompareAndSet(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("CreatesMissingRow", func(t *testing.T) {
		read, err := Get(ctx, db, "members")
		require.NoError(t, err)

		ok, err := CompareAndSet(db, read, 1, now)
		require.NoError(t, err)
		assert.True(t, ok)

		c, err := Get(ctx, db, "members")
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Value)
		assert.Equal(t, int64(1), c.Version)
	})

	t.Run("StaleReadLoses", func(t *testing.T) {
		read, err := Get(ctx, db, "members")
		require.NoError(t, err)

		ok, err := CompareAndSet(db, read, read.Value+1, now)
		require.NoError(t, err)
		require.True(t, ok)

		// Second writer still holds the old version.
		ok, err = CompareAndSet(db, read, read.Value+1, now)
		require.NoError(t, err)
		assert.False(t, ok)

		c, err := Get(ctx, db, "members")
		require.NoError(t, err)
		assert.Equal(t, int64(2), c.Value)
	})

	t.Run("SeededRowAtVersionZero", func(t *testing.T) {
		require.NoError(t, db.Create(&models.Counter{Name: "YC26:registrations"}).Error)

		read, err := Get(ctx, db, "YC26:registrations")
		require.NoError(t, err)

		ok, err := CompareAndSet(db, read, 1, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestList(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Create(&[]models.Counter{{Name: "b", Value: 2}, {Name: "a", Value: 1}}).Error)

	all, err := List(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
}
