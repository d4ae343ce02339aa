package render

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkinghead/internal/animation"
	"talkinghead/internal/scene"
)

type stubSource struct{}

func (stubSource) LoadMesh(ctx context.Context, location string) (*scene.Mesh, error) {
	return &scene.Mesh{Name: "Ava"}, nil
}

func (stubSource) LoadClips(ctx context.Context, location string) ([]*scene.Clip, error) {
	return []*scene.Clip{{Name: "idle", Duration: 10}, {Name: "talking", Duration: 10}}, nil
}

type sceneHolder struct {
	mu sync.Mutex
	sc *scene.Scene
}

func (h *sceneHolder) Scene() *scene.Scene {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sc
}

func (h *sceneHolder) set(sc *scene.Scene) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sc = sc
}

type fixedState animation.State

func (s fixedState) State() animation.State { return animation.State(s) }

type countingRenderer struct {
	frames atomic.Int64
	err    error
	panics bool
}

func (r *countingRenderer) Render(frame Frame) error {
	r.frames.Add(1)
	if r.panics {
		panic("boom")
	}
	return r.err
}

func loadScene(t *testing.T) *scene.Scene {
	t.Helper()
	sc, err := scene.NewLoader(stubSource{}, "m", "c").EnsureLoaded(context.Background(), scene.Surface{Width: 4, Height: 3})
	require.NoError(t, err)
	return sc
}

func TestDriver_StartTwiceIsGuarded(t *testing.T) {
	d := NewDriver(&sceneHolder{}, nil, &countingRenderer{}, Options{FPS: 200})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, d.Running())
}

func TestDriver_RendersWithoutSceneAndStops(t *testing.T) {
	r := &countingRenderer{}
	d := NewDriver(&sceneHolder{}, fixedState(animation.Idle), r, Options{FPS: 200})
	require.NoError(t, d.Start(context.Background()))

	assert.Eventually(t, func() bool { return r.frames.Load() >= 3 }, 2*time.Second, time.Millisecond)
	d.Stop()
	assert.False(t, d.Running())

	// no frames after Stop returns
	n := r.frames.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, r.frames.Load())

	// a stopped driver can start again, and Stop is idempotent
	require.NoError(t, d.Start(context.Background()))
	d.Stop()
	d.Stop()
}

func TestDriver_ContextCancelEndsLoop(t *testing.T) {
	d := NewDriver(&sceneHolder{}, nil, &countingRenderer{}, Options{FPS: 200})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()
	assert.Eventually(t, func() bool { return !d.Running() }, time.Second, time.Millisecond)
}

func TestDriver_TickAdvancesMixerOnceSceneIsReady(t *testing.T) {
	holder := &sceneHolder{}
	r := &countingRenderer{}
	d := NewDriver(holder, nil, r, Options{})

	d.Tick(time.Second / 60)
	assert.Equal(t, int64(1), r.frames.Load())

	sc := loadScene(t)
	idle, ok := sc.Clip("idle")
	require.True(t, ok)
	action := sc.Mixer.ClipAction(idle)
	action.Play()
	holder.set(sc)

	d.Tick(500 * time.Millisecond)
	d.Tick(250 * time.Millisecond)
	assert.InDelta(t, 0.75, action.Time(), 1e-9)
	assert.Equal(t, uint64(3), d.Frames())
}

func TestDriver_RendererFailuresDoNotStopTheLoop(t *testing.T) {
	failing := &countingRenderer{err: errors.New("gpu lost")}
	d := NewDriver(&sceneHolder{}, nil, failing, Options{})
	d.Tick(time.Millisecond)
	d.Tick(time.Millisecond)
	assert.Equal(t, int64(2), failing.frames.Load())

	panicking := &countingRenderer{panics: true}
	d = NewDriver(&sceneHolder{}, nil, panicking, Options{})
	assert.NotPanics(t, func() {
		d.Tick(time.Millisecond)
		d.Tick(time.Millisecond)
	})
	assert.Equal(t, int64(2), panicking.frames.Load())
}

func TestDriver_Delta(t *testing.T) {
	fixed := NewDriver(&sceneHolder{}, nil, nil, Options{FPS: 50})
	assert.Equal(t, 20*time.Millisecond, fixed.delta(time.Now().Add(time.Hour)))

	measured := NewDriver(&sceneHolder{}, nil, nil, Options{FPS: 50, MeasuredDelta: true})
	base := time.Now()
	measured.last = base
	assert.Equal(t, 30*time.Millisecond, measured.delta(base.Add(30*time.Millisecond)))
	assert.Equal(t, DefaultMaxDelta, measured.delta(base.Add(5*time.Second)))
	assert.Equal(t, time.Duration(0), measured.delta(base))
}

func TestStatsRenderer(t *testing.T) {
	r := NewStatsRenderer(0)
	sc := loadScene(t)

	require.NoError(t, r.Render(Frame{Number: 1}))
	require.NoError(t, r.Render(Frame{Number: 2, Scene: sc}))
	require.NoError(t, r.Render(Frame{Number: 3, Scene: sc, State: animation.Talking}))

	frames, avatar, talking := r.Stats()
	assert.Equal(t, uint64(3), frames)
	assert.Equal(t, uint64(2), avatar)
	assert.Equal(t, uint64(1), talking)
	assert.Equal(t, uint64(3), r.Last().Number)
}

func TestConsoleRenderer_PrintsOnChange(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := NewConsoleRenderer(&out)
	sc := loadScene(t)

	require.NoError(t, r.Render(Frame{}))
	require.NoError(t, r.Render(Frame{}))
	require.NoError(t, r.Render(Frame{Scene: sc}))
	require.NoError(t, r.Render(Frame{Scene: sc, State: animation.Talking}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "loading avatar")
	assert.Contains(t, lines[1], "Ava idle")
	assert.Contains(t, lines[2], "Ava talking")
}
