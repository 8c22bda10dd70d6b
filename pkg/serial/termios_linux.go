//go:build linux

package serial

import "golang.org/x/sys/unix"

// termios ioctl selectors on Linux.
const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH
)

func setSpeed(termios *unix.Termios, speed uint32) {
	termios.Ispeed = speed
	termios.Ospeed = speed
}
