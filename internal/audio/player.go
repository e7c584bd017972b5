package audio

import (
	"log/slog"
	"sync"
	"time"

	"speakerd/internal/track"
)

// entry is one queued clip. done is closed exactly once: when the callback
// consumes the last sample, or when the entry is cleared or skipped.
type entry struct {
	samples []int16
	pos     int
	done    chan struct{}
}

// Player is a single-channel PCM queue serving an output device's pull
// callback. It starts paused; once resumed, Enqueue starts the device, and
// draining or clearing the queue (or pausing) stops it again.
type Player struct {
	spec track.Spec

	mu     sync.Mutex
	queue  []*entry
	queued int // remaining samples across the queue
	paused bool
	muted  bool

	// The device is controlled outside mu: stopping an output stream
	// joins the in-flight callback, and the callback takes mu.
	devMu      sync.Mutex
	dev        Device
	devRunning bool
}

// NewPlayer opens an output device at spec and returns a paused player.
func NewPlayer(spec track.Spec, open Opener) (*Player, error) {
	p := &Player{spec: spec, paused: true}
	dev, err := open(spec, p.fill)
	if err != nil {
		return nil, err
	}
	p.dev = dev
	return p, nil
}

// Enqueue converts t to the sink spec and appends it to the queue. The
// returned channel is closed when the clip has been fully consumed (or the
// queue is cleared). Conversion failure reports track.ErrIncompatible.
func (p *Player) Enqueue(t track.Track) (<-chan struct{}, error) {
	conv, err := track.Convert(t, p.spec)
	if err != nil {
		return nil, err
	}

	e := &entry{samples: conv.Samples, done: make(chan struct{})}
	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.queued += len(e.samples)
	p.mu.Unlock()

	p.reviseDevice()
	return e.done, nil
}

// Clear resolves every pending promise and empties the queue.
func (p *Player) Clear() {
	p.mu.Lock()
	for _, e := range p.queue {
		close(e.done)
	}
	p.queue = nil
	p.queued = 0
	p.mu.Unlock()

	p.reviseDevice()
}

// Skip resolves and drops the head of the queue.
func (p *Player) Skip() {
	p.mu.Lock()
	if len(p.queue) > 0 {
		e := p.queue[0]
		p.queued -= len(e.samples) - e.pos
		p.queue = p.queue[1:]
		close(e.done)
	}
	p.mu.Unlock()

	p.reviseDevice()
}

// Pause halts consumption; queued audio is retained.
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.reviseDevice()
}

// Resume restarts consumption.
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.reviseDevice()
}

// Mute silences output. A muted player keeps consuming in real time so its
// promises still resolve on schedule.
func (p *Player) Mute() {
	p.mu.Lock()
	p.muted = true
	p.mu.Unlock()
}

// Unmute restores output.
func (p *Player) Unmute() {
	p.mu.Lock()
	p.muted = false
	p.mu.Unlock()
}

// Paused reports whether consumption is halted.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Muted reports whether output is silenced.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// DurationLeft estimates the playback time of everything still queued.
func (p *Player) DurationLeft() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return track.SamplesDuration(p.queued, p.spec)
}

// Close clears the queue (resolving all promises) and releases the device.
func (p *Player) Close() {
	p.Clear()

	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev == nil {
		return
	}
	if p.devRunning {
		p.dev.Stop()
		p.devRunning = false
	}
	p.dev.Close()
	p.dev = nil
}

// fill is the device pull callback: zero the buffer, then copy from the
// queue head forward. When muted the cursors still advance so a muted
// channel drains in real time instead of accumulating backlog.
func (p *Player) fill(out []int16) {
	for i := range out {
		out[i] = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return
	}

	filled := 0
	for filled < len(out) && len(p.queue) > 0 {
		e := p.queue[0]
		n := min(len(out)-filled, len(e.samples)-e.pos)

		if !p.muted {
			copy(out[filled:filled+n], e.samples[e.pos:e.pos+n])
		}
		e.pos += n
		filled += n
		p.queued -= n

		if e.pos == len(e.samples) {
			p.queue = p.queue[1:]
			close(e.done)
		}
	}
}

// reviseDevice starts or stops the device to match the desired state: it
// runs only while there is something to consume and the player is not
// paused. Must not be called from the pull callback.
func (p *Player) reviseDevice() {
	p.mu.Lock()
	want := len(p.queue) > 0 && !p.paused
	p.mu.Unlock()

	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev == nil || want == p.devRunning {
		return
	}

	var err error
	if want {
		err = p.dev.Start()
	} else {
		err = p.dev.Stop()
	}
	if err != nil {
		slog.Warn("audio device state change failed", "running", want, "err", err)
		return
	}
	p.devRunning = want
}
