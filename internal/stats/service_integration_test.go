//go:build integration

package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pz26/confpass/pkg/testutil/containers"
)

func TestParticipantsCachedInRedis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := &countStub{n: 5}
	svc := NewService(store, rc.Client, time.Minute, nil)
	ctx := context.Background()

	n, err := svc.Participants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	store.n = 6
	n, err = svc.Participants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "served from cache")
	assert.Equal(t, 1, store.calls)

	svc.Invalidate(ctx)
	n, err = svc.Participants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 2, store.calls)
}
