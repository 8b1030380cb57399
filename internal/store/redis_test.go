package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_KeyLayout(t *testing.T) {
	t.Parallel()
	s, mr := newRedisTestStore(t, 0)
	require.NoError(t, s.Insert(context.Background(), sampleRecord("q1")))

	assert.True(t, mr.Exists("agentproxy:query:q1"))
	raw, err := mr.Get("agentproxy:query:q1")
	require.NoError(t, err)
	assert.Contains(t, raw, `"status":"previewed"`)
	assert.Contains(t, raw, `"tenant_id":"acme"`)
}

func TestRedisStore_TTLExpiresRecord(t *testing.T) {
	t.Parallel()
	s, mr := newRedisTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleRecord("q1")))
	assert.Equal(t, time.Hour, mr.TTL("agentproxy:query:q1"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "q1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStore_UpdateKeepsTTL(t *testing.T) {
	t.Parallel()
	s, mr := newRedisTestStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, sampleRecord("q1")))

	_, err := s.UpdateStatus(ctx, "q1", domain.StatusCommitted, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("agentproxy:query:q1"))
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	t.Parallel()
	s, mr := newRedisTestStore(t, 0)
	require.NoError(t, mr.Set("agentproxy:query:bad", "{not json"))

	_, err := s.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "decoding query record")
}

func TestRedisStore_ServerDown(t *testing.T) {
	t.Parallel()
	s, mr := newRedisTestStore(t, 0)
	mr.Close()

	err := s.Insert(context.Background(), sampleRecord("q1"))
	require.Error(t, err)
	assert.Equal(t, domain.ClassInternal, domain.Classify(err))
}

func TestNewRedis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
}

func TestNewRedis_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := NewRedis(context.Background(), "http://localhost:6379")
	assert.ErrorContains(t, err, "parsing redis url")
}

func TestNewRedis_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), "redis://"+addr)
	assert.ErrorContains(t, err, "pinging redis")
}
