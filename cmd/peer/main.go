// Command peer is a headless call participant: it connects to the signaling
// store, waits for incoming calls and answers them, or places a call itself.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/adapters/rtc"
	wsignal "github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/media"
)

func main() {
	var (
		id    = flag.String("id", "", "participant id (random when empty)")
		call  = flag.String("call", "", "comma-separated participant ids to call")
		video = flag.Bool("video", false, "place a video call")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	self := domain.ParticipantID(*id)
	if self == "" {
		self = domain.ParticipantID(uuid.NewString())
	}

	store, err := wsignal.DialStore(ctx, cfg.StoreURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.StoreURL).Msg("store unreachable")
	}
	defer func() { _ = store.Close() }()

	mgr := app.NewManager(app.ManagerConfig{
		Self:    self,
		Signals: wsignal.NewClient(store),
		Media: media.NewManager(media.SampleSource{},
			media.AudioParams{
				EchoCancellation: cfg.Media.EchoCancellation,
				NoiseSuppression: cfg.Media.NoiseSuppression,
				AutoGainControl:  cfg.Media.AutoGainControl,
			},
			media.VideoParams{
				Width:     cfg.Media.VideoWidth,
				Height:    cfg.Media.VideoHeight,
				FrameRate: cfg.Media.VideoFrameRate,
			}),
		Links:        orch.New(rtc.Factory(rtc.DefaultWebRTCConfig(cfg.StunServers))),
		RingAckDelay: cfg.RingAckDelay,
		StaleAfter:   cfg.StaleAfter,
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	var active domain.SessionID
	if *call != "" {
		receivers := parseReceivers(*call)
		kind := domain.KindVoice
		if *video {
			kind = domain.KindVideo
		}
		active, err = mgr.StartCall(ctx, receivers, kind)
		if err != nil {
			log.Fatal().Err(err).Msg("start call")
		}
		log.Info().Str("self", string(self)).Str("session", string(active)).Msg("calling")
	} else {
		log.Info().Str("self", string(self)).Msg("waiting for calls")
	}

	for {
		select {
		case <-ctx.Done():
			if active != "" {
				endCtx := context.Background()
				if err := mgr.EndCall(endCtx, active); err != nil {
					log.Warn().Err(err).Str("session", string(active)).Msg("end call on shutdown")
				}
			}
			<-runDone
			log.Info().Msg("peer exited")
			return
		case s := <-mgr.Incoming():
			log.Info().
				Str("session", string(s.ID)).
				Str("caller", string(s.CallerID)).
				Str("kind", string(s.Kind)).
				Msg("incoming call, answering")
			if err := mgr.AnswerCall(ctx, s.ID); err != nil {
				log.Error().Err(err).Str("session", string(s.ID)).Msg("answer failed")
				continue
			}
			active = s.ID
		}
	}
}

func parseReceivers(s string) []domain.ParticipantID {
	parts := strings.Split(s, ",")
	out := make([]domain.ParticipantID, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, domain.ParticipantID(p))
		}
	}
	return out
}
