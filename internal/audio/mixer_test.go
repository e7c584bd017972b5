package audio

import (
	"testing"

	"pgregory.net/rapid"

	"speakerd/internal/track"
)

// newTestMixer builds a mixer whose players are backed by fake devices.
func newTestMixer(t *testing.T, channels int) (*Mixer, []*fakeDevice) {
	t.Helper()

	devices := make([]*fakeDevice, 0, channels)
	opener := func(_ track.Spec, cb Callback) (Device, error) {
		d := &fakeDevice{cb: cb}
		devices = append(devices, d)
		return d, nil
	}

	m, err := NewMixer(channels, testSpec, opener)
	if err != nil {
		t.Fatalf("new mixer: %v", err)
	}
	return m, devices
}

// audible returns the index of the single unmuted player, or -1.
func audible(m *Mixer) int {
	idx := -1
	for i, p := range m.players {
		if !p.Muted() {
			if idx != -1 {
				return -2 // more than one unmuted: invariant broken
			}
			idx = i
		}
	}
	return idx
}

func TestMixerStartsSilent(t *testing.T) {
	m, _ := newTestMixer(t, 3)
	if got := audible(m); got != -1 {
		t.Fatalf("expected all players muted at construction, audible=%d", got)
	}
	if m.CountEnabled() != 0 {
		t.Fatal("expected no enabled channels at construction")
	}
}

func TestMixerHighestEnabledWins(t *testing.T) {
	m, _ := newTestMixer(t, 3)

	m.Enable(0)
	if got := audible(m); got != 0 {
		t.Fatalf("audible = %d, want 0", got)
	}

	m.Enable(2)
	if got := audible(m); got != 2 {
		t.Fatalf("audible = %d, want 2", got)
	}

	// A lower channel joining must not steal the slot.
	m.Enable(1)
	if got := audible(m); got != 2 {
		t.Fatalf("audible = %d, want 2", got)
	}

	m.Disable(2)
	if got := audible(m); got != 1 {
		t.Fatalf("audible = %d, want 1", got)
	}
}

func TestMixerUserMuteYieldsToLowerChannel(t *testing.T) {
	m, _ := newTestMixer(t, 2)
	m.Enable(0)
	m.Enable(1)

	m.Mute(1)
	if got := audible(m); got != 0 {
		t.Fatalf("audible = %d, want 0 after muting channel 1", got)
	}
	if !m.Muted(1) {
		t.Fatal("user mute flag should stick")
	}

	m.Unmute(1)
	if got := audible(m); got != 1 {
		t.Fatalf("audible = %d, want 1 after unmute", got)
	}
}

func TestMixerAllMutedWhenNoneEligible(t *testing.T) {
	m, _ := newTestMixer(t, 2)
	m.Enable(0)
	m.Mute(0)
	if got := audible(m); got != -1 {
		t.Fatalf("audible = %d, want none", got)
	}
}

func TestMixerDisableLeavesPristineChannel(t *testing.T) {
	m, _ := newTestMixer(t, 2)
	m.Enable(1)

	done, err := m.Enqueue(1, ramp(50))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	m.Mute(1)

	m.Disable(1)
	if !resolved(done) {
		t.Fatal("disable must clear the queue and resolve its promises")
	}
	if !m.Paused(1) {
		t.Fatal("disable must pause the player")
	}
	if m.Muted(1) {
		t.Fatal("disable must reset the user mute")
	}
	if m.DurationLeft(1) != 0 {
		t.Fatal("disable must leave an empty queue")
	}
}

func TestMixerEnqueueOnDisabledChannelIsAllowed(t *testing.T) {
	m, _ := newTestMixer(t, 2)

	// Channels load audio before being made audible.
	if _, err := m.Enqueue(0, ramp(50)); err != nil {
		t.Fatalf("enqueue on disabled channel: %v", err)
	}
	if m.DurationLeft(0) == 0 {
		t.Fatal("queued audio should be retained")
	}
	if m.MaxDurationLeft() != m.DurationLeft(0) {
		t.Fatal("aggregate duration should reflect the loaded channel")
	}
}

// TestMixerSelectionInvariant drives random operation sequences and checks
// the priority rule after every step: at most one player unmuted, and if
// one is, it is the highest enabled non-muted index.
func TestMixerSelectionInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		const channels = 4
		m, _ := newTestMixer(t, channels)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for s := 0; s < steps; s++ {
			ch := rapid.IntRange(0, channels-1).Draw(rt, "ch")
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				m.Enable(ch)
			case 1:
				m.Disable(ch)
			case 2:
				m.Mute(ch)
			case 3:
				m.Unmute(ch)
			}

			want := -1
			for i := channels - 1; i >= 0; i-- {
				if m.Enabled(i) && !m.Muted(i) {
					want = i
					break
				}
			}
			if got := audible(m); got != want {
				rt.Fatalf("step %d: audible = %d, want %d", s, got, want)
			}
		}
	})
}
