package notify

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Alerter is told about each category that grew since the last poll.
// Implementations must be safe for use from the poller goroutine.
type Alerter interface {
	Alert(cat Category, delta, total int64)
}

// LogAlerter records alerts on the structured log. It is the default.
type LogAlerter struct {
	Log *slog.Logger
}

func (a LogAlerter) Alert(cat Category, delta, total int64) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify.alert", "category", string(cat), "delta", delta, "total", total)
}

// ChimeAlerter rings an audible bell on the operator's terminal. The
// output device is opened on first alert, not at construction, so building
// one is free and never fails; Close releases the device if it was opened.
type ChimeAlerter struct {
	// OpenDevice opens the chime output. Defaults to opening /dev/tty.
	OpenDevice func() (io.WriteCloser, error)

	mu   sync.Mutex
	dev  io.WriteCloser
	err  error
	once sync.Once
}

// NewChimeAlerter constructs a ChimeAlerter with the default device.
func NewChimeAlerter() *ChimeAlerter {
	return &ChimeAlerter{}
}

func (a *ChimeAlerter) open() {
	openFn := a.OpenDevice
	if openFn == nil {
		openFn = func() (io.WriteCloser, error) {
			return os.OpenFile("/dev/tty", os.O_WRONLY, 0)
		}
	}
	a.dev, a.err = openFn()
}

// Alert rings the bell once per grown category. Device failures are
// remembered and the alerter goes silent rather than erroring every poll.
func (a *ChimeAlerter) Alert(cat Category, delta, total int64) {
	a.once.Do(a.open)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil || a.dev == nil {
		return
	}
	_, _ = fmt.Fprint(a.dev, "\a")
}

// Close releases the chime device. Safe to call without a prior Alert.
func (a *ChimeAlerter) Close() error {
	// Ensures a concurrent first Alert cannot reopen after Close.
	a.once.Do(func() { a.err = fmt.Errorf("notify: chime closed") })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil
	}
	err := a.dev.Close()
	a.dev = nil
	a.err = fmt.Errorf("notify: chime closed")
	return err
}

// MultiAlerter fans one alert out to several alerters.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(cat Category, delta, total int64) {
	for _, a := range m {
		if a != nil {
			a.Alert(cat, delta, total)
		}
	}
}
