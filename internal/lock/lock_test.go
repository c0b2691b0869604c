package lock

import (
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	l := New(t.TempDir(), 0)

	require.NoError(t, l.Acquire("s1"))
	raw, err := os.ReadFile(l.Path("s1"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))
	assert.Equal(t, os.Getpid(), l.HolderPID("s1"))
}

func TestAcquireBusyWithinWindow(t *testing.T) {
	l := New(t.TempDir(), 30*time.Second)

	require.NoError(t, l.Acquire("s1"))
	err := l.Acquire("s1")
	assert.ErrorIs(t, err, ErrBusy)

	// Other sessions are independent
	assert.NoError(t, l.Acquire("s2"))
}

func TestAcquireRecoversStaleLock(t *testing.T) {
	l := New(t.TempDir(), 30*time.Second)
	path := l.Path("s1")
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o600))

	old := time.Now().Add(-31 * time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, l.Acquire("s1"))
	assert.Equal(t, os.Getpid(), l.HolderPID("s1"))
}

func TestAcquireFreshForeignLockIsBusy(t *testing.T) {
	l := New(t.TempDir(), 30*time.Second)
	path := l.Path("s1")
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o600))

	recent := time.Now().Add(-29 * time.Second)
	require.NoError(t, os.Chtimes(path, recent, recent))

	assert.ErrorIs(t, l.Acquire("s1"), ErrBusy)
	assert.Equal(t, 999999, l.HolderPID("s1"))
}

func TestReleaseToleratesMissingFile(t *testing.T) {
	l := New(t.TempDir(), 0)
	assert.NoError(t, l.Release("never-acquired"))

	require.NoError(t, l.Acquire("s1"))
	require.NoError(t, l.Release("s1"))
	require.NoError(t, l.Release("s1"))
	assert.NoError(t, l.Acquire("s1"))
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := New(t.TempDir(), 0)
	boom := errors.New("boom")

	err := l.WithLock("s1", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(l.Path("s1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	l := New(t.TempDir(), 0)

	assert.Panics(t, func() {
		_ = l.WithLock("s1", func() error { panic("extraction crashed") })
	})
	_, statErr := os.Stat(l.Path("s1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireIsExclusiveUnderContention(t *testing.T) {
	l := New(t.TempDir(), time.Minute)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire("shared"); err == nil {
				winners.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrBusy)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestAcquireRejectsEmptyID(t *testing.T) {
	assert.Error(t, New(t.TempDir(), 0).Acquire(""))
}
