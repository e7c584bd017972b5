// Package amp couples the power relay, the warm-up/cool-down model and the
// per-channel states into the amplifier controller.
package amp

import (
	"log/slog"
	"sync"
	"time"

	"speakerd/internal/track"
)

// DefaultTick is the reconciliation interval.
const DefaultTick = 20 * time.Millisecond

// Relay is the power actuator the controller drives. Close energizes the
// amplifier mains, Open cuts them.
type Relay interface {
	Close()
	Open()
	Closed() bool
	Path() string
}

// Mixer is the audio routing surface the controller reconciles against.
type Mixer interface {
	Enable(ch int)
	Disable(ch int)
	Clear(ch int)
	Skip(ch int)
	Enqueue(ch int, t track.Track) (<-chan struct{}, error)
	DurationLeft(ch int) time.Duration
	MaxDurationLeft() time.Duration
}

// Config holds the amplifier timing model.
type Config struct {
	// Warming is how long the chassis must be continuously powered
	// before it produces clean sound.
	Warming time.Duration
	// Cooling is the window after power-off during which the valves are
	// assumed still warm.
	Cooling time.Duration
	// Tick is the reconciliation interval; DefaultTick when zero.
	Tick time.Duration
	// Channels is the logical channel count.
	Channels int
}

// channelInfo is the per-index record. Listener lists are resolved
// (closed) and cleared under the controller lock.
type channelInfo struct {
	state        ChannelState
	urgent       bool
	activation   []chan struct{}
	deactivation []chan struct{}
}

// interval is a continuous relay-energized span.
type interval struct {
	start time.Time
	last  time.Time
	valid bool
}

// Controller owns the relay and the mixer and runs the reconciliation
// loop that converges the physical state toward the per-channel desired
// states every tick.
type Controller struct {
	cfg   Config
	relay Relay
	mixer Mixer
	now   func() time.Time

	mu       sync.Mutex
	channels []*channelInfo
	cur      interval // current powered interval
	prev     interval // previous powered interval, for cool-down re-warm
	demand   bool     // power demand observed on the last tick

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a controller and starts its reconciliation loop.
func New(cfg Config, relay Relay, mixer Mixer) *Controller {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	c := &Controller{
		cfg:      cfg,
		relay:    relay,
		mixer:    mixer,
		now:      time.Now,
		channels: make([]*channelInfo, cfg.Channels),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := range c.channels {
		c.channels[i] = &channelInfo{state: Closed}
	}

	go c.run()
	return c
}

// Stop halts the loop, resolves every outstanding listener and forces the
// relay into the de-energized state.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done

		c.mu.Lock()
		for _, ci := range c.channels {
			resolveAll(&ci.activation)
			resolveAll(&ci.deactivation)
			ci.state = Closed
		}
		c.mu.Unlock()

		c.relay.Open()
	})
}

// Open reserves channel ch. Fails unless the channel is Closed.
func (c *Controller) Open(ch int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ci := c.channels[ch]
	if ci.state != Closed {
		return ErrChannelOpened
	}
	ci.state = Opened
	return nil
}

// Close forces deactivation and then Closed. Outstanding activation
// listeners are resolved as cancelled. The returned channel closes when
// the channel has reached Closed.
func (c *Controller) Close(ch int) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ci := c.channels[ch]
	done := make(chan struct{})

	switch ci.state {
	case Closed, Opened:
		ci.state = Closed
		close(done)
	default:
		resolveAll(&ci.activation)
		ci.urgent = false
		if c.otherDemandLocked(ch) {
			// Another channel keeps the chassis up; no shutdown to
			// wait for.
			ci.state = Closed
			resolveAll(&ci.deactivation)
			close(done)
		} else {
			ci.state = PendingTermination
			ci.deactivation = append(ci.deactivation, done)
		}
	}
	return done
}

// Activate requests audibility for channel ch. The returned channel closes
// once the channel is Active — or when Close or Stop cancels the wait; the
// outcome is distinguished via State. Deactivate does not cancel a pending
// activation: it fails with ErrChannelInactive until the channel is Active.
func (c *Controller) Activate(ch int, urgent bool) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ci := c.channels[ch]
	done := make(chan struct{})

	switch ci.state {
	case Opened:
		ci.state = PendingActivation
		ci.urgent = urgent
		ci.activation = append(ci.activation, done)
	case PendingActivation:
		// Join the in-flight transition; an urgent repeat upgrades it.
		ci.urgent = ci.urgent || urgent
		ci.activation = append(ci.activation, done)
	case Active:
		close(done)
	default:
		return nil, ErrChannelClosed
	}
	return done, nil
}

// Deactivate drops channel ch from Active back toward Opened. The returned
// channel closes once the shutdown (if any) has completed.
func (c *Controller) Deactivate(ch int) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ci := c.channels[ch]
	done := make(chan struct{})

	switch ci.state {
	case Active:
		ci.state = PendingDeactivation
		ci.urgent = false
		ci.deactivation = append(ci.deactivation, done)
	case PendingDeactivation:
		ci.deactivation = append(ci.deactivation, done)
	default:
		return nil, ErrChannelInactive
	}
	return done, nil
}

// Enqueue queues a track on an Active channel. The returned channel closes
// when the audio has been fully consumed.
func (c *Controller) Enqueue(ch int, t track.Track) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels[ch].state != Active {
		return nil, ErrChannelInactive
	}
	return c.mixer.Enqueue(ch, t)
}

// Clear empties an Active channel's queue.
func (c *Controller) Clear(ch int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels[ch].state != Active {
		return ErrChannelInactive
	}
	c.mixer.Clear(ch)
	return nil
}

// Skip drops the head of an Active channel's queue.
func (c *Controller) Skip(ch int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels[ch].state != Active {
		return ErrChannelInactive
	}
	c.mixer.Skip(ch)
	return nil
}

// DurationLeft estimates the queued playback time of an Active channel.
func (c *Controller) DurationLeft(ch int) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channels[ch].state != Active {
		return 0, ErrChannelInactive
	}
	return c.mixer.DurationLeft(ch), nil
}

// MaxDurationLeft returns the longest queued playback time over all
// channels.
func (c *Controller) MaxDurationLeft() time.Duration {
	return c.mixer.MaxDurationLeft()
}

// State returns the current state of channel ch.
func (c *Controller) State(ch int) ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[ch].state
}

// Powered reports whether the relay is commanded energized.
func (c *Controller) Powered() bool {
	return c.relay.Closed()
}

// Channels returns the channel count.
func (c *Controller) Channels() int {
	return len(c.channels)
}

// ActivationDuration returns the worst-case wait before a channel becomes
// audible.
func (c *Controller) ActivationDuration(urgent bool) time.Duration {
	if urgent {
		return 0
	}
	return c.cfg.Warming
}

// DeactivationDuration returns the worst-case shutdown wait. De-energizing
// the relay is the whole shutdown, so it is immediate regardless of
// urgency.
func (c *Controller) DeactivationDuration(bool) time.Duration {
	return 0
}

func (c *Controller) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick reconciles the relay, the powered-interval bookkeeping and the
// mixer routing with the desired channel states, then completes any
// pending transition whose condition holds.
func (c *Controller) tick() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	demand := false
	for _, ci := range c.channels {
		if ci.state == PendingActivation || ci.state == Active {
			demand = true
			break
		}
	}

	// Re-issued every tick: a failed ioctl self-heals on the next one.
	if demand {
		c.relay.Close()
	} else {
		c.relay.Open()
	}

	switch {
	case demand && !c.demand:
		c.prev = c.cur
		c.cur = interval{start: now, last: now, valid: true}
	case demand:
		c.cur.last = now
	}
	c.demand = demand

	for i, ci := range c.channels {
		switch ci.state {
		case Closed, Opened:
			c.mixer.Disable(i)

		case Active:
			c.mixer.Enable(i)

		case PendingActivation:
			// On hold: slot stays routed but silent until warm.
			c.mixer.Enable(i)
			c.mixer.Clear(i)
			if c.warmLocked(now, ci.urgent) {
				ci.state = Active
				ci.urgent = false
				resolveAll(&ci.activation)
				slog.Info("channel activated", "channel", i)
			}

		case PendingDeactivation, PendingTermination:
			c.mixer.Enable(i)
			c.mixer.Clear(i)
			// The relay demand has been settled above — either another
			// channel holds power or the relay was commanded open — so
			// the shutdown is complete.
			if ci.state == PendingDeactivation {
				ci.state = Opened
			} else {
				ci.state = Closed
			}
			resolveAll(&ci.deactivation)
			slog.Info("channel shut down", "channel", i, "state", ci.state.String())
		}
	}
}

// warmLocked is the audibility predicate: urgent bypasses warming, a full
// warming interval qualifies, and a chassis powered off for less than the
// cooling window is assumed still warm.
func (c *Controller) warmLocked(now time.Time, urgent bool) bool {
	if urgent {
		return true
	}
	if c.cur.valid && now.Sub(c.cur.start) >= c.cfg.Warming {
		return true
	}
	if c.prev.valid && now.Sub(c.prev.last) <= c.cfg.Cooling {
		return true
	}
	return false
}

// otherDemandLocked reports whether any channel except ch is holding the
// chassis up.
func (c *Controller) otherDemandLocked(ch int) bool {
	for i, ci := range c.channels {
		if i == ch {
			continue
		}
		if ci.state == PendingActivation || ci.state == Active {
			return true
		}
	}
	return false
}

// resolveAll closes every listener and clears the list.
func resolveAll(listeners *[]chan struct{}) {
	for _, l := range *listeners {
		close(l)
	}
	*listeners = nil
}
