//go:build linux

package unixprim

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/chazu/mlrt/vm"
)

// UnixError is a failed system call. Err is usually a unix.Errno, so
// errors.Is(err, os.ErrNotExist) and friends work.
type UnixError struct {
	Op  string
	Arg string
	Err error
}

func (e *UnixError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Arg, e.Err)
}

func (e *UnixError) Unwrap() error {
	return e.Err
}

// Sleep suspends the caller for d. A signal recorded while sleeping ends
// the sleep early and is returned as a *vm.SignalError.
func Sleep(v *vm.VM, d time.Duration) error {
	if d < 0 {
		return &UnixError{Op: "sleep", Arg: d.String(), Err: unix.EINVAL}
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	return v.Blocking(func() error {
		for {
			var rem unix.Timespec
			err := unix.Nanosleep(&ts, &rem)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, unix.EINTR):
				if v.PendingSignals() > 0 {
					return nil
				}
				ts = rem
			default:
				return &UnixError{Op: "sleep", Err: err}
			}
		}
	})
}

// Getcwd returns the working directory as a string block.
func Getcwd(v *vm.VM) (vm.Value, error) {
	var dir string
	err := v.Blocking(func() error {
		var err error
		dir, err = unix.Getwd()
		if err != nil {
			return &UnixError{Op: "getcwd", Err: err}
		}
		return nil
	})
	if err != nil {
		return vm.Unit, err
	}
	return v.Heap.CopyString(dir), nil
}

// Gethostname returns the node name as a string block.
func Gethostname(v *vm.VM) (vm.Value, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return vm.Unit, &UnixError{Op: "gethostname", Err: err}
	}
	return v.Heap.CopyString(unix.ByteSliceToString(uts.Nodename[:])), nil
}

// Getgroups returns the supplementary group ids as an array of integers.
func Getgroups(v *vm.VM) (vm.Value, error) {
	gids, err := unix.Getgroups()
	if err != nil {
		return vm.Unit, &UnixError{Op: "getgroups", Err: err}
	}
	h := v.Heap
	arr, err := h.MakeVector(int64(len(gids)), vm.FromInt(0))
	if err != nil {
		return vm.Unit, err
	}
	for i, g := range gids {
		h.ArrayUnsafeSet(arr, int64(i), vm.FromInt(int64(g)))
	}
	return arr, nil
}

// Mkfifo creates a named pipe at path with permission bits mode.
func Mkfifo(v *vm.VM, path string, mode uint32) error {
	return v.Blocking(func() error {
		if err := unix.Mkfifo(path, mode); err != nil {
			return &UnixError{Op: "mkfifo", Arg: path, Err: err}
		}
		return nil
	})
}
