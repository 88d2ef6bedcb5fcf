package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/site/internal/pkg/distlock"
	"github.com/ledgerline/site/internal/pkg/logger"
)

func runCLI(t *testing.T, mr *miniredis.Miniredis, extra ...string) (int, string, string) {
	t.Helper()
	prev := logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(prev) })

	args := append([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--redis-url", "redis://" + mr.Addr(),
	}, extra...)

	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunRepairs(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("waitlist:4000", "b@x.com"))

	code, out, _ := runCLI(t, mr)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "waitlist:4000")
	assert.Contains(t, out, "OVERALL: PASS")
	assert.Equal(t, "b@x.com", mr.HGet("waitlist:4000", "email"))
	assert.False(t, mr.Exists("lock:repair-keyspace"))
}

func TestRunDryRun(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("waitlist:4000", "b@x.com"))

	code, out, _ := runCLI(t, mr, "--dry-run")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "PLANNED")

	v, err := mr.Get("waitlist:4000")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", v)
}

func TestRunRefusesWhenLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("lock:repair-keyspace", "someone-else"))

	code, _, errOut := runCLI(t, mr)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "another repair run")
}

// recordingLock stands in for the Redis lock.
type recordingLock struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (l *recordingLock) Acquire(context.Context) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	l.acquired = true
	return true, nil
}

func (l *recordingLock) Release(context.Context) error {
	l.released = true
	return nil
}

func useLock(t *testing.T, l distlock.Locker) {
	t.Helper()
	prev := newLocker
	newLocker = func(redis.Cmdable, time.Duration) distlock.Locker { return l }
	t.Cleanup(func() { newLocker = prev })
}

func TestRunReleasesInjectedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("waitlist:4000", "b@x.com"))
	lock := &recordingLock{}
	useLock(t, lock)

	code, _, _ := runCLI(t, mr)
	assert.Equal(t, 0, code)
	assert.True(t, lock.acquired)
	assert.True(t, lock.released)
}

func TestRunLockErrorWritesNothing(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("waitlist:4000", "b@x.com"))
	useLock(t, &recordingLock{acquireErr: errors.New("NOSCRIPT")})

	code, _, errOut := runCLI(t, mr)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "acquiring repair-keyspace lock")

	v, err := mr.Get("waitlist:4000")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", v)
}

func TestRunUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Close()

	code, _, errOut := runCLI(t, mr)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "store unavailable")
}

func TestRunBadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"--bogus"}, &out, &errOut))
}
