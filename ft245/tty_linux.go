//go:build linux

package ft245

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// TTY presents a Linux serial device (or pty) as an FT245 register pair.
// The status register is synthesized from a zero-timeout poll(2): POLLIN
// clears RXF, POLLOUT clears TXE and a hang-up drops PWE.
type TTY struct {
	fd        int
	file      *os.File
	closeOnce sync.Once
}

// OpenTTY opens device in raw, non-blocking mode at the given baud rate.
func OpenTTY(device string, baud int) (*TTY, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudToUnix(baud)

	// Reads never wait: the driver only reads after the status says so.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	logging.Info(logging.ComponentLine, "tty opened", "device", device, "baud", baud)
	return &TTY{fd: fd, file: os.NewFile(uintptr(fd), device)}, nil
}

// Name returns the device path.
func (t *TTY) Name() string {
	return t.file.Name()
}

// Status implements Registers.
func (t *TTY) Status() uint8 {
	st := uint8(StatusRXF | StatusTXE)
	pfd := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN | unix.POLLOUT}}
	for {
		n, err := unix.Poll(pfd, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			logging.Debug(logging.ComponentLine, "status poll failed", "error", err)
			return st
		}
		if n == 0 {
			return st | StatusPWE
		}
		break
	}
	ev := pfd[0].Revents
	// A hung-up tty polls readable forever; report it unpowered and empty.
	if ev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return st
	}
	if ev&unix.POLLIN != 0 {
		st &^= StatusRXF
	}
	if ev&unix.POLLOUT != 0 {
		st &^= StatusTXE
	}
	return st | StatusPWE
}

// ReadFIFO implements Registers. It returns 0 if nothing could be read.
func (t *TTY) ReadFIFO() byte {
	var b [1]byte
	n, err := unix.Read(t.fd, b[:])
	if err != nil || n != 1 {
		if err != nil && !errors.Is(err, unix.EAGAIN) {
			logging.Debug(logging.ComponentLine, "fifo read failed", "error", err)
		}
		return 0
	}
	return b[0]
}

// WriteFIFO implements Registers.
func (t *TTY) WriteFIFO(b byte) {
	for {
		_, err := unix.Write(t.fd, []byte{b})
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			logging.Warn(logging.ComponentLine, "fifo write failed", "error", err)
		}
		return
	}
}

// Close releases the device. Safe to call multiple times.
func (t *TTY) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.file.Close()
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B115200 // fallback
	}
}
