//go:build linux

package port_reader

import "golang.org/x/sys/unix"

func flushFd(fd uintptr) error {
	return unix.IoctlSetInt(int(fd), unix.TCFLSH, unix.TCIOFLUSH)
}
