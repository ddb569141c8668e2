package askreg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeliversPayload(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", time.Minute)

	assert.True(t, r.Resolve("ask-1", "42"))

	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", got)
	assert.Equal(t, 0, r.Len())
}

func TestResolveUnknownIsDropped(t *testing.T) {
	r := New(nil)
	assert.False(t, r.Resolve("never-registered", "x"))
}

func TestTimeout(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", 20*time.Millisecond)

	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, r.Has("ask-1"))
}

func TestLateReplyAfterTimeout(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", 20*time.Millisecond)

	_, err := p.Await(context.Background())
	require.ErrorIs(t, err, ErrTimeout)

	// The reply arrives too late and is reported unresolved.
	assert.False(t, r.Resolve("ask-1", "late"))
}

func TestResolveWinsOverTimer(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", time.Hour)

	require.True(t, r.Resolve("ask-1", "fast"))
	got, err := p.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fast", got)

	// Exactly once: a second resolve finds nothing.
	assert.False(t, r.Resolve("ask-1", "again"))
}

func TestFail(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", time.Minute)

	sendErr := errors.New("connection refused")
	assert.True(t, r.Fail("ask-1", sendErr))

	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, sendErr)
}

func TestDestroyRejectsAllPending(t *testing.T) {
	r := New(nil)
	p1 := r.Register("ask-1", time.Hour)
	p2 := r.Register("ask-2", time.Hour)

	r.Destroy()

	_, err := p1.Await(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = p2.Await(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRegisterAfterDestroy(t *testing.T) {
	r := New(nil)
	r.Destroy()

	p := r.Register("ask-1", time.Hour)
	_, err := p.Await(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestReRegisterRejectsPrevious(t *testing.T) {
	r := New(nil)
	old := r.Register("ask-1", time.Hour)
	fresh := r.Register("ask-1", time.Hour)

	_, err := old.Await(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	require.True(t, r.Resolve("ask-1", "answer"))
	got, err := fresh.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
}

func TestAwaitHonorsContext(t *testing.T) {
	r := New(nil)
	p := r.Register("ask-1", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
