package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Track is one local capture track. Enabled gates the capture without
// detaching the sender, so toggling never triggers renegotiation.
type Track interface {
	webrtc.TrackLocal

	SetEnabled(bool)
	Enabled() bool
	// Stop ends capture. Only the owning Manager calls it.
	Stop()
}

// opusSilence is a minimal valid opus frame, written while the mic track has
// no real capture source.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

const sampleInterval = 20 * time.Millisecond

// sampleTrack wraps a pion static sample track with an enable flag and a
// stoppable pump. The video variant carries no pump: a real capturer pushes
// frames via WriteSample, a headless peer simply sends none.
type sampleTrack struct {
	*webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func newSampleTrack(inner *webrtc.TrackLocalStaticSample) *sampleTrack {
	t := &sampleTrack{
		TrackLocalStaticSample: inner,
		done:                   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *sampleTrack) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *sampleTrack) Enabled() bool     { return t.enabled.Load() }

func (t *sampleTrack) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

// pumpSilence keeps the audio sender fed while muted or without a capturer.
func (t *sampleTrack) pumpSilence() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			_ = t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: sampleInterval})
		}
	}
}
