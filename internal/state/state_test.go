package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "progress:task-1", []byte(`{"stage":"queued"}`), 0))

	v, err := s.Get(ctx, "progress:task-1")
	require.NoError(t, err)
	assert.Equal(t, `{"stage":"queued"}`, string(v))

	require.NoError(t, s.Delete(ctx, "progress:task-1"))
	_, err = s.Get(ctx, "progress:task-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiresByTTL(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "worker:w1", []byte("alive"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.Get(ctx, "worker:w1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreKeysFiltersByPrefixAndExpiry(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "worker:w1", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "worker:w2", []byte("b"), 0))
	require.NoError(t, s.Set(ctx, "progress:t1", []byte("c"), 0))

	keys, err := s.Keys(ctx, "worker:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker:w1", "worker:w2"}, keys)
}

func TestMemoryStorePublishSubscribe(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := s.Subscribe(ctx, "progress.events")
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, s.Publish(ctx, "progress.events", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestMemoryStorePublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, "nobody.listening", []byte("x")))
}

func TestMemoryStoreSweepEvictsExpiredEntries(t *testing.T) {
	s := NewMemoryStore(5 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "progress:t2", []byte("x"), 5*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	s.mu.RLock()
	_, stillPresent := s.data["progress:t2"]
	s.mu.RUnlock()
	assert.False(t, stillPresent)
}
