// Package relay drives the amplifier mains relay through the DTR
// modem-control line of a serial port.
package relay

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Relay is a single-bit actuator: Close energizes the coil (amplifier mains
// on), Open de-energizes it. The port is held exclusively via an advisory
// lock for the lifetime of the relay.
type Relay struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

// Open acquires the serial device exclusively and configures it
// (9600 baud, 8N1, no flow control). The relay starts de-energized.
func Open(path string) (*Relay, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open relay port %s: %w", path, err)
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock relay port %s: %w", path, err)
	}

	if err := configurePort(fd); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("configure relay port %s: %w", path, err)
	}

	r := &Relay{file: f, path: path}
	r.Open()
	return r, nil
}

// configurePort sets 9600 8N1 raw mode with flow control off.
func configurePort(fd int) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	tio.Cflag &^= unix.CBAUD
	tio.Cflag |= unix.B9600
	tio.Ispeed = unix.B9600
	tio.Ospeed = unix.B9600

	tio.Cflag = (tio.Cflag &^ unix.CSIZE) | unix.CS8
	tio.Iflag &^= unix.IGNBRK
	tio.Lflag = 0
	tio.Oflag = 0
	tio.Cc[unix.VMIN] = 0
	tio.Cc[unix.VTIME] = 5
	tio.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	tio.Cflag |= unix.CLOCAL | unix.CREAD
	tio.Cflag &^= unix.PARENB | unix.PARODD
	tio.Cflag &^= unix.CSTOPB
	tio.Cflag &^= unix.CRTSCTS

	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}

// Close energizes the relay coil, switching the amplifier mains on.
func (r *Relay) Close() {
	r.updatePort(unix.TIOCM_DTR, 0)
	r.setClosed(true)
}

// Open de-energizes the relay coil, switching the amplifier mains off.
func (r *Relay) Open() {
	r.updatePort(0, unix.TIOCM_DTR)
	r.setClosed(false)
}

// Closed reports the last commanded state; it is not read back from the
// hardware.
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Path returns the serial device path.
func (r *Relay) Path() string {
	return r.path
}

// Shutdown forces the de-energized state and releases the port.
func (r *Relay) Shutdown() {
	r.Open()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
	r.file.Close()
	r.file = nil
}

func (r *Relay) setClosed(v bool) {
	r.mu.Lock()
	r.closed = v
	r.mu.Unlock()
}

// updatePort applies a set/clear mask to the modem-control bits. Failures
// are logged only: the controller loop re-issues the command on its next
// tick.
func (r *Relay) updatePort(set, clear int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}

	fd := int(r.file.Fd())
	bits, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		slog.Debug("relay modem bits read failed", "port", r.path, "err", err)
		return
	}

	bits |= set
	bits &^= clear
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMSET, bits); err != nil {
		slog.Debug("relay modem bits write failed", "port", r.path, "err", err)
	}
}
