//go:build linux || darwin
// +build linux darwin

package sorter

import (
	"golang.org/x/sys/unix"
)

// raiseOpenFileLimit raises the soft limit on open files to at least n, up
// to the hard limit. It returns the resulting soft limit.
func raiseOpenFileLimit(n uint64) (uint64, error) {
	var l unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &l); err != nil {
		return 0, err
	}
	if l.Cur >= n {
		return l.Cur, nil
	}
	l.Cur = n
	if l.Cur > l.Max {
		l.Cur = l.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &l); err != nil {
		return 0, err
	}
	return l.Cur, nil
}
