package bso

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xx25/binkd-go/pkg/errkind"
)

func TestAcquireReleaseBSY(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireBSY(dir, 2, 3, "binkd-go 1234\n")
	require.NoError(t, err)

	_, err = AcquireBSY(dir, 2, 3, "other 5678\n")
	assert.True(t, errkind.Is(err, errkind.Busy))

	require.NoError(t, Release(lock))

	lock2, err := AcquireBSY(dir, 2, 3, "binkd-go 1234\n")
	require.NoError(t, err)
	require.NoError(t, Release(lock2))
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireBSY(dir, 2, 3, "x\n")
	require.NoError(t, err)
	require.NoError(t, Release(lock))
	require.NoError(t, Release(lock))
}

func TestHoldCreateAndCheck(t *testing.T) {
	dir := t.TempDir()
	until := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, CreateHold(dir, 2, 3, until, "link down"))

	hold, ok, err := CheckHold(dir, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, until.Unix(), hold.Until.Unix())
	assert.Equal(t, "link down", hold.Reason)
}

func TestCheckHoldAbsent(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := CheckHold(dir, 2, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementAndClearTry(t *testing.T) {
	dir := t.TempDir()
	n, err := IncrementTry(dir, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = IncrementTry(dir, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, ClearTry(dir, 2, 3))
}

func TestReapStaleRemovesOldLocksOnly(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireBSY(dir, 2, 3, "x\n")
	require.NoError(t, err)

	removed, err := ReapStale(dir, time.Hour, time.Now())
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = ReapStale(dir, -time.Second, time.Now())
	require.NoError(t, err)
	assert.Contains(t, removed, lock.Path)

	_, held, err := CheckBSY(dir, 2, 3)
	require.NoError(t, err)
	assert.False(t, held)
}
