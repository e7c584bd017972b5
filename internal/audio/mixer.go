package audio

import (
	"sync"
	"time"

	"speakerd/internal/track"
)

// Mixer owns one player per channel and enforces the priority rule: among
// channels that are enabled and not user-muted, the highest index is the
// only player left unmuted. Everything else is muted at the player level.
type Mixer struct {
	mu      sync.Mutex
	players []*Player
	enabled []bool
	muted   []bool
}

// NewMixer opens one player per channel, all disabled and muted.
func NewMixer(channels int, spec track.Spec, open Opener) (*Mixer, error) {
	m := &Mixer{
		players: make([]*Player, channels),
		enabled: make([]bool, channels),
		muted:   make([]bool, channels),
	}
	for i := range m.players {
		p, err := NewPlayer(spec, open)
		if err != nil {
			for _, opened := range m.players[:i] {
				opened.Close()
			}
			return nil, err
		}
		p.Mute()
		m.players[i] = p
	}
	return m, nil
}

// Enable routes channel ch into the priority selection and resumes its
// player. Idempotent.
func (m *Mixer) Enable(ch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled[ch] {
		return
	}
	m.enabled[ch] = true
	m.players[ch].Resume()
	m.applyLocked()
}

// Disable takes channel ch out of the selection: its queue is cleared, the
// player paused and its user-mute reset, so the next Enable starts from a
// pristine channel. Idempotent.
func (m *Mixer) Disable(ch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled[ch] {
		return
	}
	m.players[ch].Clear()
	m.players[ch].Pause()
	m.muted[ch] = false
	m.enabled[ch] = false
	m.applyLocked()
}

// Mute records user intent to silence channel ch and re-runs selection.
func (m *Mixer) Mute(ch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[ch] = true
	m.applyLocked()
}

// Unmute clears the user mute on channel ch and re-runs selection.
func (m *Mixer) Unmute(ch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted[ch] = false
	m.applyLocked()
}

// Enqueue queues a track on channel ch. Enqueueing on a disabled channel is
// allowed: channels load audio before being made audible.
func (m *Mixer) Enqueue(ch int, t track.Track) (<-chan struct{}, error) {
	return m.players[ch].Enqueue(t)
}

// Clear empties channel ch's queue, resolving its promises.
func (m *Mixer) Clear(ch int) {
	m.players[ch].Clear()
}

// Skip drops the head of channel ch's queue.
func (m *Mixer) Skip(ch int) {
	m.players[ch].Skip()
}

// Pause halts channel ch's consumption.
func (m *Mixer) Pause(ch int) {
	m.players[ch].Pause()
}

// Resume restarts channel ch's consumption.
func (m *Mixer) Resume(ch int) {
	m.players[ch].Resume()
}

// Paused reports whether channel ch's player is paused.
func (m *Mixer) Paused(ch int) bool {
	return m.players[ch].Paused()
}

// Muted reports the user-mute intent for channel ch (not the player-level
// mute imposed by the priority rule).
func (m *Mixer) Muted(ch int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted[ch]
}

// Enabled reports whether channel ch is routed into the selection.
func (m *Mixer) Enabled(ch int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[ch]
}

// CountEnabled returns the number of enabled channels.
func (m *Mixer) CountEnabled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.enabled {
		if e {
			n++
		}
	}
	return n
}

// Channels returns the channel count.
func (m *Mixer) Channels() int {
	return len(m.players)
}

// DurationLeft estimates the queued playback time of channel ch.
func (m *Mixer) DurationLeft(ch int) time.Duration {
	return m.players[ch].DurationLeft()
}

// MaxDurationLeft returns the longest queued playback time over all
// channels.
func (m *Mixer) MaxDurationLeft() time.Duration {
	var longest time.Duration
	for _, p := range m.players {
		if d := p.DurationLeft(); d > longest {
			longest = d
		}
	}
	return longest
}

// Close releases every player, resolving all outstanding promises.
func (m *Mixer) Close() {
	for _, p := range m.players {
		p.Close()
	}
}

// applyLocked walks channels from the highest index down; the first one
// that is enabled and not user-muted wins and is the only player unmuted.
func (m *Mixer) applyLocked() {
	winner := -1
	for i := len(m.players) - 1; i >= 0; i-- {
		if m.enabled[i] && !m.muted[i] {
			winner = i
			break
		}
	}
	for i, p := range m.players {
		if i == winner {
			p.Unmute()
		} else {
			p.Mute()
		}
	}
}
