package animation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkinghead/internal/scene"
)

type stubSource struct {
	clips []*scene.Clip
}

func (s stubSource) LoadMesh(ctx context.Context, location string) (*scene.Mesh, error) {
	return &scene.Mesh{Name: "avatar"}, nil
}

func (s stubSource) LoadClips(ctx context.Context, location string) ([]*scene.Clip, error) {
	return s.clips, nil
}

func loadScene(t *testing.T, clips ...*scene.Clip) *scene.Scene {
	t.Helper()
	sc, err := scene.NewLoader(stubSource{clips: clips}, "mesh", "clips").EnsureLoaded(context.Background(), scene.Surface{Width: 1, Height: 1})
	require.NoError(t, err)
	return sc
}

func TestStateMachine_TalkBeforeScene(t *testing.T) {
	m := NewStateMachine()
	assert.ErrorIs(t, m.Talk(), ErrSceneNotReady)
	assert.Equal(t, Idle, m.State())

	m.Rest()
	assert.Equal(t, Idle, m.State())
	assert.Nil(t, m.Current())
}

func TestStateMachine_IdleTalkIdle(t *testing.T) {
	sc := loadScene(t, &scene.Clip{Name: "Idle", Duration: 2}, &scene.Clip{Name: "Talking", Duration: 1})
	m := NewStateMachine()
	require.NoError(t, m.Attach(sc))

	assert.Equal(t, Idle, m.State())
	require.NotNil(t, m.Current())
	assert.Equal(t, "Idle", m.Current().Clip().Name)

	require.NoError(t, m.Talk())
	assert.Equal(t, Talking, m.State())
	assert.Equal(t, "Talking", m.Current().Clip().Name)
	running := sc.Mixer.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "Talking", running[0].Clip().Name)

	// a second Talk keeps the same action
	current := m.Current()
	require.NoError(t, m.Talk())
	assert.Same(t, current, m.Current())

	m.Rest()
	assert.Equal(t, Idle, m.State())
	running = sc.Mixer.Running()
	require.Len(t, running, 1)
	assert.Equal(t, "Idle", running[0].Clip().Name)

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "talking", Talking.String())
}

func TestStateMachine_RapidTransitionsKeepOneAction(t *testing.T) {
	sc := loadScene(t, &scene.Clip{Name: "idle", Duration: 2}, &scene.Clip{Name: "talking", Duration: 1})
	m := NewStateMachine()
	require.NoError(t, m.Attach(sc))

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Talk())
		m.Rest()
		require.NoError(t, m.Talk())
		assert.Len(t, sc.Mixer.Running(), 1)
	}
	m.Rest()
	assert.Len(t, sc.Mixer.Running(), 1)
}

func TestStateMachine_MissingTalkingClip(t *testing.T) {
	sc := loadScene(t, &scene.Clip{Name: "idle", Duration: 2})
	m := NewStateMachine()
	require.NoError(t, m.Attach(sc))

	err := m.Talk()
	var warn *scene.MissingClipWarning
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, scene.ClipTalking, warn.Clip)
	assert.Equal(t, Idle, m.State())
	require.NotNil(t, m.Current())
	assert.True(t, m.Current().Running())
}

func TestStateMachine_MissingIdleClip(t *testing.T) {
	sc := loadScene(t, &scene.Clip{Name: "talking", Duration: 1})
	m := NewStateMachine()

	err := m.Attach(sc)
	var warn *scene.MissingClipWarning
	require.ErrorAs(t, err, &warn)
	assert.Equal(t, scene.ClipIdle, warn.Clip)
	assert.Nil(t, m.Current())

	require.NoError(t, m.Talk())
	m.Rest()
	assert.Equal(t, Idle, m.State())
	assert.Nil(t, m.Current())
	assert.Empty(t, sc.Mixer.Running())
}

func TestStateMachine_AttachTwiceIsNoop(t *testing.T) {
	sc := loadScene(t, &scene.Clip{Name: "idle", Duration: 1}, &scene.Clip{Name: "talking", Duration: 1})
	m := NewStateMachine()
	require.NoError(t, m.Attach(sc))
	require.NoError(t, m.Talk())
	require.NoError(t, m.Attach(sc))
	assert.Equal(t, Talking, m.State())
}
