// Package render drives the per-frame tick: advance the mixer, draw a frame.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/animation"
	"talkinghead/internal/scene"
)

var ErrAlreadyRunning = errors.New("render loop already running")

const (
	DefaultFPS      = 60
	DefaultMaxDelta = 100 * time.Millisecond
)

// SceneSource yields the scene once it is ready and nil before that. scene.Loader fits.
type SceneSource interface {
	Scene() *scene.Scene
}

// StateSource reports the animation state to draw. animation.StateMachine fits.
type StateSource interface {
	State() animation.State
}

// Frame is everything a renderer gets for one tick. Scene is nil until loading completes.
type Frame struct {
	Number uint64
	Delta  time.Duration
	Scene  *scene.Scene
	State  animation.State
}

type Renderer interface {
	Render(frame Frame) error
}

type Options struct {
	FPS int
	// MeasuredDelta advances by wall time instead of a fixed 1/FPS step.
	MeasuredDelta bool
	// MaxDelta clamps measured deltas after a stall.
	MaxDelta time.Duration
}

// Driver is the repeating render task. One driver per scene; it never waits on speech or asset work.
type Driver struct {
	scenes   SceneSource
	states   StateSource
	renderer Renderer
	opts     Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Uint64
	last   time.Time
	log    *logrus.Entry
}

func NewDriver(scenes SceneSource, states StateSource, renderer Renderer, opts Options) *Driver {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.MaxDelta <= 0 {
		opts.MaxDelta = DefaultMaxDelta
	}
	return &Driver{
		scenes:   scenes,
		states:   states,
		renderer: renderer,
		opts:     opts,
		log:      logrus.WithField("component", "render"),
	}
}

// Start launches the loop. It runs until Stop or until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.last = time.Now()

	go d.run(ctx, done)

	d.log.WithFields(logrus.Fields{
		"fps":      d.opts.FPS,
		"measured": d.opts.MeasuredDelta,
	}).Info("Render loop started")
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping an idle driver is a no-op.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a loop is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done != nil
}

// Frames counts frames issued since the driver was built.
func (d *Driver) Frames() uint64 {
	return d.frames.Load()
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(d.opts.FPS))
	defer func() {
		ticker.Stop()
		d.mu.Lock()
		d.cancel = nil
		d.done = nil
		d.mu.Unlock()
		close(done)
		d.log.WithField("frames", d.frames.Load()).Info("Render loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Tick(d.delta(now))
		}
	}
}

func (d *Driver) delta(now time.Time) time.Duration {
	step := time.Second / time.Duration(d.opts.FPS)
	if !d.opts.MeasuredDelta {
		return step
	}
	elapsed := now.Sub(d.last)
	d.last = now
	if elapsed < 0 {
		return 0
	}
	if elapsed > d.opts.MaxDelta {
		return d.opts.MaxDelta
	}
	return elapsed
}

// Tick runs one frame: advance the mixer when a scene is ready, then render.
// Renderer failures and panics are logged and the loop carries on.
func (d *Driver) Tick(delta time.Duration) {
	n := d.frames.Add(1)
	sc := d.scenes.Scene()
	if sc != nil {
		sc.Mixer.Update(delta.Seconds())
	}

	frame := Frame{Number: n, Delta: delta, Scene: sc}
	if d.states != nil {
		frame.State = d.states.State()
	}

	if err := d.render(frame); err != nil {
		d.log.WithError(err).WithField("frame", n).Warn("Frame render failed")
	}
}

func (d *Driver) render(frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renderer panic: %v", r)
		}
	}()
	if d.renderer == nil {
		return nil
	}
	return d.renderer.Render(frame)
}
