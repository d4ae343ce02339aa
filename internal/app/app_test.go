package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkinghead/internal/audio"
	"talkinghead/internal/config"
	"talkinghead/internal/host"
	"talkinghead/internal/render"
	"talkinghead/internal/session"
	"talkinghead/internal/speech"
)

const meshGLTF = `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "AvatarRoot", "children": [1]}, {"name": "Head", "mesh": 0}],
  "meshes": [{"name": "Body", "primitives": [{"attributes": {"POSITION": 0}}]}],
  "accessors": [{"componentType": 5126, "count": 3, "type": "VEC3", "min": [0, 0, 0], "max": [1, 1, 1]}]
}`

const clipsGLTF = `{
  "asset": {"version": "2.0"},
  "nodes": [{"name": "Hips"}],
  "accessors": [
    {"componentType": 5126, "count": 2, "type": "SCALAR", "min": [0], "max": [2.5]},
    {"componentType": 5126, "count": 2, "type": "VEC4"},
    {"componentType": 5126, "count": 2, "type": "SCALAR", "min": [0], "max": [1.25]}
  ],
  "animations": [
    {"name": "Idle", "samplers": [{"input": 0, "output": 1}], "channels": [{"sampler": 0, "target": {"node": 0, "path": "rotation"}}]},
    {"name": "Talking", "samplers": [{"input": 2, "output": 1}], "channels": [{"sampler": 0, "target": {"node": 0, "path": "rotation"}}]}
  ]
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	mesh := filepath.Join(dir, "avatar.gltf")
	clips := filepath.Join(dir, "animations.gltf")
	require.NoError(t, os.WriteFile(mesh, []byte(meshGLTF), 0644))
	require.NoError(t, os.WriteFile(clips, []byte(clipsGLTF), 0644))

	return &config.Config{
		Speech: speech.Config{
			Provider: "mock",
			Voice:    "default",
			Speed:    1.0,
			CacheDir: filepath.Join(dir, "cache", "speech"),
		},
		Scene: config.SceneConfig{
			Mesh:        mesh,
			Clips:       clips,
			CacheDir:    filepath.Join(dir, "cache", "assets"),
			CacheMaxAge: time.Hour,
			LoadTimeout: 10 * time.Second,
			Width:       640,
			Height:      480,
		},
		Render:  config.RenderConfig{FPS: 60, StatsInterval: time.Second},
		Audio:   config.AudioConfig{Output: "clock"},
		Server:  config.ServerConfig{Addr: "127.0.0.1:0"},
		Journal: config.JournalConfig{Enabled: true, Path: filepath.Join(dir, "journal.db")},
		Log:     config.LogConfig{Level: "info"},
	}
}

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	cmds := &Commands{
		Ctx: context.Background(),
		LoadConfig: func() (*config.Config, error) {
			c := *cfg
			return &c, nil
		},
	}
	root := NewRootCommand(cmds)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestWelcome(t *testing.T) {
	out, err := run(t, testConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Welcome to talkinghead")
	assert.Contains(t, out, "talkinghead speak")
}

func TestSpeakThenHistory(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "speak", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "Finished speaking")
	assert.Contains(t, out, "AvatarRoot talking")

	out, err = run(t, cfg, "history", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "Recent session events")
	assert.Contains(t, out, `"hello there"`)
	for _, status := range []string{"pending", "ready", "playing", "ended"} {
		assert.Contains(t, out, status)
	}
}

func TestSpeak_RequiresText(t *testing.T) {
	_, err := run(t, testConfig(t), "speak")
	assert.Error(t, err)
}

func TestSpeak_Interactive(t *testing.T) {
	cfg := testConfig(t)
	color.NoColor = true

	cmds := &Commands{
		Ctx:        context.Background(),
		LoadConfig: func() (*config.Config, error) { c := *cfg; return &c, nil },
	}
	root := NewRootCommand(cmds)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(bytes.NewBufferString("s\nq\n"))
	root.SetArgs([]string{"speak", "-i"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Type text and press Enter")
	assert.Contains(t, out.String(), "Stopped")
}

func TestHistory_Empty(t *testing.T) {
	out, err := run(t, testConfig(t), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded yet")
}

func TestScene(t *testing.T) {
	out, err := run(t, testConfig(t), "scene")
	require.NoError(t, err)
	assert.Contains(t, out, "AvatarRoot")
	assert.Contains(t, out, "surface: 640x480")
	assert.Contains(t, out, "2 clips")
	assert.Contains(t, out, "Idle (2.50s, 1 channels)")
	assert.Contains(t, out, "Talking (1.25s, 1 channels)")
	assert.NotContains(t, out, "⚠️")
}

func TestScene_MissingMesh(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scene.Mesh = filepath.Join(t.TempDir(), "nope.glb")
	_, err := run(t, cfg, "scene")
	assert.Error(t, err)
}

func TestVoices(t *testing.T) {
	out, err := run(t, testConfig(t), "voices")
	require.NoError(t, err)
	assert.Contains(t, out, "Voices for mock")
	assert.Contains(t, out, "mock-voice")
}

func TestCacheStatusAndClear(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Speech.CacheDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Speech.CacheDir, "abc.wav"), audio.SilentWAV(time.Second, 8000), 0644))

	out, err := run(t, cfg, "cache", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache Status")
	assert.Contains(t, out, "Speech: 1 files")
	assert.Contains(t, out, "not cached")

	out, err = run(t, cfg, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Caches cleared")
	_, err = os.Stat(cfg.Speech.CacheDir)
	assert.True(t, os.IsNotExist(err))
}

func TestNew_WithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = false

	reporter := host.NewConsoleReporter(&bytes.Buffer{})
	th, err := New(context.Background(), cfg, audio.NewRegistry(), reporter, render.NewStatsRenderer(time.Minute))
	require.NoError(t, err)
	defer th.Close()
	assert.Nil(t, th.Journal)

	require.NoError(t, th.Start())
	require.NoError(t, th.Controller.Speak(context.Background(), "one two"))

	info, ok := th.Controller.Current()
	require.True(t, ok)
	assert.Equal(t, session.Playing, info.Status)
	assert.NotEmpty(t, info.Handle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	th.WaitIdle(ctx)

	info, _ = th.Controller.Current()
	assert.Equal(t, session.Ended, info.Status)
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Speech.Provider = "carrier-pigeon"
	_, err := New(context.Background(), cfg, audio.NewRegistry(), host.NewConsoleReporter(&bytes.Buffer{}), render.NewStatsRenderer(time.Minute))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
