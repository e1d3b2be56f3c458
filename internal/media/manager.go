package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/domain"
)

// Handle is the local media of one call session: an audio track and, for
// video calls, a video track. It is shared (never copied) across every peer
// link of the session.
type Handle struct {
	mu       sync.Mutex
	tracks   []Track
	released bool
}

// Tracks returns the tracks for sender attachment.
func (h *Handle) Tracks() []webrtc.TrackLocal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, len(h.tracks))
	for _, t := range h.tracks {
		out = append(out, t)
	}
	return out
}

func (h *Handle) setEnabled(kind webrtc.RTPCodecType, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// AudioEnabled reports whether any audio track is live.
func (h *Handle) AudioEnabled() bool { return h.enabled(webrtc.RTPCodecTypeAudio) }

// VideoEnabled reports whether any video track is live.
func (h *Handle) VideoEnabled() bool { return h.enabled(webrtc.RTPCodecTypeVideo) }

func (h *Handle) enabled(kind webrtc.RTPCodecType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

func (h *Handle) stop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	for _, t := range h.tracks {
		t.Stop()
	}
	return true
}

// Manager acquires and releases the local capture, one handle at a time.
type Manager struct {
	source Source
	audio  AudioParams
	video  VideoParams

	mu      sync.Mutex
	current *Handle
}

func NewManager(source Source, audio AudioParams, video VideoParams) *Manager {
	return &Manager{source: source, audio: audio, video: video}
}

// Acquire opens audio and, unless the call is voice-only, video. Any
// previously held handle is stopped first. Failures are typed *Error values;
// a partial acquisition is rolled back before returning.
func (m *Manager) Acquire(kind domain.CallKind) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.stop()
		m.current = nil
		log.Info().Str("module", "media").Msg("stopped prior handle on re-acquire")
	}

	audio, err := m.source.OpenAudio(m.audio)
	if err != nil {
		return nil, err
	}
	h := &Handle{tracks: []Track{audio}}

	if kind == domain.KindVideo {
		video, err := m.source.OpenVideo(m.video)
		if err != nil {
			audio.Stop()
			return nil, err
		}
		h.tracks = append(h.tracks, video)
	}

	m.current = h
	log.Info().Str("module", "media").Str("kind", string(kind)).Int("tracks", len(h.tracks)).Msg("acquired")
	return h, nil
}

// Release stops every track of the handle. Safe to call repeatedly; only the
// first call does anything.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	if !h.stop() {
		return
	}
	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()
	log.Info().Str("module", "media").Msg("released")
}

// SetAudioEnabled toggles the mic without renegotiation.
func (m *Manager) SetAudioEnabled(h *Handle, enabled bool) {
	if h == nil {
		return
	}
	h.setEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled toggles the camera without renegotiation.
func (m *Manager) SetVideoEnabled(h *Handle, enabled bool) {
	if h == nil {
		return
	}
	h.setEnabled(webrtc.RTPCodecTypeVideo, enabled)
}
