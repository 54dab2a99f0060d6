//go:build linux

package unixprim

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/chazu/mlrt/vm"
)

func newTestVM(t *testing.T) *vm.VM {
	t.Helper()
	v, err := vm.NewVM(vm.HeapConfig{
		MinorHeapWords:  1024,
		ChunkWords:      4096,
		MajorSliceWords: 1 << 20,
	})
	require.NoError(t, err)
	return v
}

func TestGetcwd(t *testing.T) {
	v := newTestVM(t)
	want, err := os.Getwd()
	require.NoError(t, err)

	got, err := Getcwd(v)
	require.NoError(t, err)
	assert.Equal(t, vm.StringTag, v.Heap.Tag(got))
	assert.Equal(t, want, v.Heap.StringVal(got))
	assert.False(t, v.InBlockingSection())
}

func TestGethostname(t *testing.T) {
	v := newTestVM(t)
	want, err := os.Hostname()
	require.NoError(t, err)

	got, err := Gethostname(v)
	require.NoError(t, err)
	assert.Equal(t, want, v.Heap.StringVal(got))
}

func TestGetgroups(t *testing.T) {
	v := newTestVM(t)
	want, err := os.Getgroups()
	require.NoError(t, err)

	arr, err := Getgroups(v)
	require.NoError(t, err)
	require.Equal(t, int64(len(want)), v.Heap.ArrayLength(arr))
	for i, g := range want {
		el, err := v.Heap.ArrayGet(arr, int64(i))
		require.NoError(t, err)
		assert.Equal(t, int64(g), el.Int())
	}
}

func TestSleep(t *testing.T) {
	v := newTestVM(t)
	start := time.Now()
	require.NoError(t, Sleep(v, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	var ue *UnixError
	assert.ErrorAs(t, Sleep(v, -time.Second), &ue)
	assert.ErrorIs(t, ue, unix.EINVAL)
}

func TestSleepReportsPendingSignal(t *testing.T) {
	v := newTestVM(t)
	v.RecordSignal(syscall.SIGINT)

	err := Sleep(v, time.Millisecond)
	var se *vm.SignalError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, syscall.SIGINT, se.Signal)
	assert.Zero(t, v.PendingSignals())
}

func TestMkfifo(t *testing.T) {
	v := newTestVM(t)
	path := filepath.Join(t.TempDir(), "pipe")

	require.NoError(t, Mkfifo(v, path, 0o600))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeNamedPipe)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	err = Mkfifo(v, path, 0o600)
	var ue *UnixError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, path, ue.Arg)
	assert.ErrorIs(t, err, os.ErrExist)
}
