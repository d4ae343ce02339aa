// Package app wires configuration into a running talking head and backs the CLI commands.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/animation"
	"talkinghead/internal/audio"
	"talkinghead/internal/config"
	"talkinghead/internal/journal"
	"talkinghead/internal/render"
	"talkinghead/internal/scene"
	"talkinghead/internal/session"
	"talkinghead/internal/speech"
)

// TalkingHead main application structure
type TalkingHead struct {
	Config     *config.Config
	Registry   *audio.Registry
	Provider   speech.Provider
	Speech     *speech.Client
	Assets     *scene.AssetCache
	Loader     *scene.Loader
	Animation  *animation.StateMachine
	Driver     *render.Driver
	Controller *session.Controller
	Journal    *journal.Store

	ctx    context.Context
	Cancel context.CancelFunc
}

// New builds every component from cfg around registry. reporter receives session values
// and failures; renderer draws the frames.
func New(ctx context.Context, cfg *config.Config, registry *audio.Registry, reporter session.Reporter, renderer render.Renderer) (*TalkingHead, error) {
	provider, err := speech.NewProvider(ctx, cfg.Speech)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech provider: %w", err)
	}

	th := &TalkingHead{
		Config:    cfg,
		Registry:  registry,
		Provider:  provider,
		Assets:    scene.NewAssetCache(cfg.Scene.CacheDir, cfg.Scene.CacheMaxAge),
		Animation: animation.NewStateMachine(),
	}
	th.ctx, th.Cancel = context.WithCancel(ctx)

	th.Speech = speech.NewClient(provider, th.Registry, cfg.Speech.Voice, cfg.Speech.Speed)
	th.Loader = scene.NewLoader(scene.NewGLTFSource(th.Assets), cfg.Scene.Mesh, cfg.Scene.Clips)
	th.Loader.SetTimeout(cfg.Scene.LoadTimeout)
	th.Driver = render.NewDriver(th.Loader, th.Animation, renderer, render.Options{
		FPS:           cfg.Render.FPS,
		MeasuredDelta: cfg.Render.MeasuredDelta,
	})

	opts := session.Options{
		Surface: scene.Surface{Width: cfg.Scene.Width, Height: cfg.Scene.Height},
		Render:  th.Driver,
		Preload: cfg.Scene.Preload,
	}
	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			logrus.WithError(err).Warn("Session journal unavailable")
		} else {
			th.Journal = store
			opts.Journal = store
		}
	}

	th.Controller = session.NewController(th.Speech, th.Loader, th.Animation, newPlayer(cfg.Audio), reporter, opts)
	return th, nil
}

func newPlayer(cfg config.AudioConfig) audio.Player {
	if cfg.Output == "clock" {
		return &audio.ClockPlayer{Fallback: 2 * time.Second}
	}
	return audio.NewSpeakerPlayer(cfg.SampleRate)
}

// Start runs the render loop. The avatar loads with the first speech unless scene.preload is set.
func (th *TalkingHead) Start() error {
	return th.Controller.Start(th.ctx)
}

// Close tears everything down in reverse order of construction.
func (th *TalkingHead) Close() {
	th.Cancel()
	th.Controller.Close()
	th.Registry.ReleaseAll()
	if closer, ok := th.Provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close speech provider")
		}
	}
	if th.Journal != nil {
		th.Journal.Close()
	}
}

// WaitIdle blocks until the current session is no longer active or ctx ends.
func (th *TalkingHead) WaitIdle(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		info, ok := th.Controller.Current()
		if !ok || !info.Status.Active() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
