package media

import (
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// AudioParams are the audio processing constraints requested on acquire.
type AudioParams struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// VideoParams bound the capture to a target resolution and frame rate.
type VideoParams struct {
	Width     int
	Height    int
	FrameRate int
}

// Source opens capture tracks. Implementations classify their failures with
// the typed *Error so the engine can surface them untouched.
type Source interface {
	OpenAudio(AudioParams) (Track, error)
	OpenVideo(VideoParams) (Track, error)
}

// SampleSource builds pion static sample tracks: opus for audio, vp8 for
// video. It is the default source for headless peers and for tests.
type SampleSource struct{}

func (SampleSource) OpenAudio(_ AudioParams) (Track, error) {
	inner, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(),
		"peercall",
	)
	if err != nil {
		return nil, newError(Unsupported, err)
	}
	t := newSampleTrack(inner)
	go t.pumpSilence()
	return t, nil
}

func (SampleSource) OpenVideo(p VideoParams) (Track, error) {
	if p.Width <= 0 || p.Height <= 0 || p.FrameRate <= 0 {
		return nil, newError(Overconstrained, errors.New("non-positive video constraint"))
	}
	inner, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+uuid.NewString(),
		"peercall",
	)
	if err != nil {
		return nil, newError(Unsupported, err)
	}
	return newSampleTrack(inner), nil
}
