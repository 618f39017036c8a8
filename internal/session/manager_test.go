package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateGetDelete(t *testing.T) {
	f := newFixture(t, Options{})
	m := f.manager

	s := m.Create()
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(s.ID()))
	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, m.Delete(s.ID()), ErrNotFound)

	_, err = s.EncodeText(context.Background(), "a diagram")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerSweep(t *testing.T) {
	f := newFixture(t, Options{})
	m := f.manager

	idle := m.Create()
	fresh := m.Create()

	// Two hours from now both are past the one hour TTL.
	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.Equal(t, 2, m.Sweep(time.Now().Add(2*time.Hour)))
	assert.Equal(t, 0, m.Len())

	_, err := m.Get(idle.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(fresh.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSweepDisabled(t *testing.T) {
	m := NewManager(nil, Options{}, 0, testLogger())
	m.Create()
	assert.Equal(t, 0, m.Sweep(time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, m.Len())
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerClose(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.ready(t)
	f.manager.Create()

	require.NoError(t, f.manager.Close())
	assert.Equal(t, 0, f.manager.Len())
	_, err := s.Distances(0)
	assert.ErrorIs(t, err, ErrClosed)
}
