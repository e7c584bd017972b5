// Package speaker is the session façade over the amplifier controller: it
// maps channel names to indices and enforces the keep-alive protocol.
package speaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"speakerd/internal/amp"
	"speakerd/internal/track"
)

// KeepAlive is how long an opened channel lives without a Prolong.
const KeepAlive = 1000 * time.Millisecond

// DefaultTick is the reaper interval.
const DefaultTick = 20 * time.Millisecond

// ErrChannelNotFound is returned when no channel has the given name.
var ErrChannelNotFound = errors.New("channel not found")

// Amplifier is the controller surface the session layer drives.
type Amplifier interface {
	Open(ch int) error
	Close(ch int) <-chan struct{}
	Activate(ch int, urgent bool) (<-chan struct{}, error)
	Deactivate(ch int) (<-chan struct{}, error)
	Enqueue(ch int, t track.Track) (<-chan struct{}, error)
	Clear(ch int) error
	Skip(ch int) error
	DurationLeft(ch int) (time.Duration, error)
	MaxDurationLeft() time.Duration
	State(ch int) amp.ChannelState
	Powered() bool
	ActivationDuration(urgent bool) time.Duration
	DeactivationDuration(urgent bool) time.Duration
}

// Speaker owns the name→index mapping and the per-channel keep-alive
// deadlines, and runs the reaper loop.
type Speaker struct {
	amp   Amplifier
	names map[string]int
	tick  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	deadlines []time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a speaker over amp. channels lists the channel names in index
// order (ascending priority). The reaper starts immediately.
func New(amplifier Amplifier, channels []string) *Speaker {
	s := &Speaker{
		amp:       amplifier,
		names:     make(map[string]int, len(channels)),
		tick:      DefaultTick,
		now:       time.Now,
		deadlines: make([]time.Time, len(channels)),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i, name := range channels {
		s.names[name] = i
	}

	go s.reap()
	return s
}

// Stop halts the reaper.
func (s *Speaker) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Open reserves the named channel and arms its keep-alive deadline.
func (s *Speaker) Open(name string) error {
	ch, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := s.amp.Open(ch); err != nil {
		return err
	}

	s.mu.Lock()
	s.deadlines[ch] = s.now().Add(KeepAlive)
	s.mu.Unlock()
	return nil
}

// Prolong re-arms the keep-alive deadline. Valid on any non-Closed channel,
// including one already winding down.
func (s *Speaker) Prolong(name string) error {
	ch, err := s.resolve(name)
	if err != nil {
		return err
	}
	if s.amp.State(ch) == amp.Closed {
		return amp.ErrChannelClosed
	}

	s.mu.Lock()
	s.deadlines[ch] = s.now().Add(KeepAlive)
	s.mu.Unlock()
	return nil
}

// Close force-closes the named channel.
func (s *Speaker) Close(name string) (<-chan struct{}, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.amp.Close(ch), nil
}

// Activate requests audibility; the returned channel closes when the
// channel is Active (or the request is superseded).
func (s *Speaker) Activate(name string, urgent bool) (<-chan struct{}, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.amp.Activate(ch, urgent)
}

// Deactivate releases audibility. The urgent flag is accepted for API
// symmetry; shutdown is immediate either way.
func (s *Speaker) Deactivate(name string, _ bool) (<-chan struct{}, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.amp.Deactivate(ch)
}

// Enqueue queues a track on the named channel; the returned channel closes
// when playback of that track has finished.
func (s *Speaker) Enqueue(name string, t track.Track) (<-chan struct{}, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.amp.Enqueue(ch, t)
}

// Clear empties the named channel's queue.
func (s *Speaker) Clear(name string) error {
	ch, err := s.resolve(name)
	if err != nil {
		return err
	}
	return s.amp.Clear(ch)
}

// Skip drops the named channel's current clip.
func (s *Speaker) Skip(name string) error {
	ch, err := s.resolve(name)
	if err != nil {
		return err
	}
	return s.amp.Skip(ch)
}

// DurationLeft estimates the named channel's queued playback time.
func (s *Speaker) DurationLeft(name string) (time.Duration, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return 0, err
	}
	return s.amp.DurationLeft(ch)
}

// TotalDurationLeft returns the longest queued playback time across all
// channels.
func (s *Speaker) TotalDurationLeft() time.Duration {
	return s.amp.MaxDurationLeft()
}

// State returns the named channel's state.
func (s *Speaker) State(name string) (amp.ChannelState, error) {
	ch, err := s.resolve(name)
	if err != nil {
		return amp.Closed, err
	}
	return s.amp.State(ch), nil
}

// ActivationDuration reports the worst-case activation wait.
func (s *Speaker) ActivationDuration(urgent bool) time.Duration {
	return s.amp.ActivationDuration(urgent)
}

// DeactivationDuration reports the worst-case deactivation wait.
func (s *Speaker) DeactivationDuration(urgent bool) time.Duration {
	return s.amp.DeactivationDuration(urgent)
}

// Working reports whether the amplifier chassis is powered.
func (s *Speaker) Working() bool {
	return s.amp.Powered()
}

// Channels returns the configured channel names in index order.
func (s *Speaker) Channels() []string {
	out := make([]string, len(s.deadlines))
	for name, i := range s.names {
		out[i] = name
	}
	return out
}

func (s *Speaker) resolve(name string) (int, error) {
	ch, ok := s.names[name]
	if !ok {
		return 0, ErrChannelNotFound
	}
	return ch, nil
}

// reap closes every channel whose keep-alive deadline has passed. The
// controller decides whether closure is immediate (another channel keeps
// the chassis up) or goes through PendingTermination.
func (s *Speaker) reap() {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			for ch := range s.deadlines {
				s.mu.Lock()
				expired := now.After(s.deadlines[ch])
				s.mu.Unlock()

				if !expired {
					continue
				}
				state := s.amp.State(ch)
				if state == amp.Closed || state == amp.PendingTermination {
					continue
				}
				slog.Info("channel keep-alive expired", "channel", ch, "state", state.String())
				s.amp.Close(ch)
			}
		}
	}
}
