package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superyldr/relayer/pkg/models"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	refID := "0x" + uuid.NewString()
	user := "0x" + uuid.NewString()[:8]
	rec := newRecord(refID, user, models.StatusPending, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, s.Create(ctx, rec))
	assert.ErrorIs(t, s.Create(ctx, rec), models.ErrAlreadyExists)

	n, err := s.ConditionalUpdate(ctx, refID, models.StatusPending, models.StatusProcessing,
		models.Patch{models.FieldBaselineBalance: "7", models.FieldToChainID: "10"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.ConditionalUpdate(ctx, refID, models.StatusPending, models.StatusProcessing, nil, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.FindByRefID(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, "7", got.BaselineBalance)
	assert.Equal(t, int64(10), got.ToChainID)

	pending, err := s.ListPendingByUser(ctx, user, DefaultPendingLimit)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = s.FindByRefID(ctx, "0xdoesnotexist")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
