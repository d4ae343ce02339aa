package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkinghead/internal/animation"
	"talkinghead/internal/audio"
	"talkinghead/internal/scene"
	"talkinghead/internal/session"
	"talkinghead/internal/speech"
)

type fakeSpeaker struct {
	server *Server

	mu    sync.Mutex
	texts []string
	stops int
}

func (f *fakeSpeaker) Begin(ctx context.Context, text string) (func() error, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return func() error {
		if text == "fail" {
			err := &speech.SynthesisError{Provider: "mock", Status: 500}
			f.server.Fail("s-fail", err)
			return err
		}
		f.server.Report("s-1", "/audio/abc")
		return nil
	}, nil
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSpeaker) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := Decode(data)
	require.NoError(t, err)
	return env
}

func send(t *testing.T, conn *websocket.Conn, typ MessageType, payload interface{}) {
	t.Helper()
	msg, err := Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func TestProtocol_EncodeDecode(t *testing.T) {
	msg, err := Encode(TypeSpeak, SpeakPayload{Text: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"speak","payload":{"text":"hello"}}`, string(msg))

	env, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, TypeSpeak, env.Type)

	var p SpeakPayload
	require.NoError(t, DecodePayload(env, &p))
	assert.Equal(t, "hello", p.Text)

	stop, err := Encode(TypeStop, nil)
	require.NoError(t, err)
	env, err = Decode(stop)
	require.NoError(t, err)
	assert.Error(t, DecodePayload(env, &p))

	_, err = Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "no_input", ErrorKind(speech.ErrNoInput))
	assert.Equal(t, "synthesis", ErrorKind(&speech.SynthesisError{Provider: "x"}))
	assert.Equal(t, "asset_load", ErrorKind(fmt.Errorf("wrapped: %w", &scene.AssetLoadError{Stage: scene.StageMesh})))
	assert.Equal(t, "superseded", ErrorKind(session.ErrSuperseded))
	assert.Equal(t, "internal", ErrorKind(errors.New("other")))
}

func TestServer_SpeakReportsValueToClients(t *testing.T) {
	srv := NewServer(audio.NewRegistry())
	speaker := &fakeSpeaker{server: srv}
	srv.Bind(speaker)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	other := dial(t, ts)
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, time.Second, time.Millisecond)

	send(t, conn, TypeSpeak, SpeakPayload{Text: "hello"})

	for _, c := range []*websocket.Conn{conn, other} {
		env := readEnvelope(t, c)
		assert.Equal(t, TypeValue, env.Type)
		var v ValuePayload
		require.NoError(t, DecodePayload(env, &v))
		assert.Equal(t, "s-1", v.SessionID)
		assert.Equal(t, "/audio/abc", v.Handle)
	}

	send(t, conn, TypeSpeak, SpeakPayload{Text: "fail"})
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	var e ErrorPayload
	require.NoError(t, DecodePayload(env, &e))
	assert.Equal(t, "synthesis", e.Kind)
	assert.Equal(t, "s-fail", e.SessionID)

	send(t, conn, TypeStop, nil)
	assert.Eventually(t, func() bool { return speaker.Stops() == 1 }, time.Second, time.Millisecond)
}

// fixedSource serves an avatar with both clips.
type fixedSource struct{}

func (fixedSource) LoadMesh(ctx context.Context, location string) (*scene.Mesh, error) {
	return &scene.Mesh{Name: "avatar"}, nil
}

func (fixedSource) LoadClips(ctx context.Context, location string) ([]*scene.Clip, error) {
	return []*scene.Clip{{Name: "Idle", Duration: 2}, {Name: "Talking", Duration: 1}}, nil
}

func TestServer_SpeakRequestsApplyInArrivalOrder(t *testing.T) {
	registry := audio.NewRegistry()
	srv := NewServer(registry)

	provider := speech.NewMockProvider()
	provider.Delay = 10 * time.Millisecond
	provider.WPM = 10 // clips long enough to still be playing at the end
	ctrl := session.NewController(
		speech.NewClient(provider, registry, "", 1),
		scene.NewLoader(fixedSource{}, "avatar.glb", "clips.glb"),
		animation.NewStateMachine(),
		&audio.ClockPlayer{},
		srv,
		session.Options{},
	)
	defer ctrl.Close()
	srv.Bind(ctrl)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, time.Millisecond)

	const n = 20
	for i := 0; i < n; i++ {
		send(t, conn, TypeSpeak, SpeakPayload{Text: fmt.Sprintf("line %d", i)})
	}

	last := fmt.Sprintf("line %d", n-1)
	require.Eventually(t, func() bool {
		info, ok := ctrl.Current()
		return ok && info.Text == last && info.Status == session.Playing
	}, 5*time.Second, time.Millisecond)

	// nothing queued behind the last request may take over afterwards
	time.Sleep(100 * time.Millisecond)
	info, _ := ctrl.Current()
	assert.Equal(t, last, info.Text)
	assert.Equal(t, session.Playing, info.Status)
	assert.Equal(t, uint64(n), info.Epoch)
	assert.Equal(t, 1, registry.Live())

	// the last value on the wire is the current session's
	var v ValuePayload
	for v.SessionID != info.ID {
		env := readEnvelope(t, conn)
		require.Equal(t, TypeValue, env.Type)
		require.NoError(t, DecodePayload(env, &v))
	}
	assert.NotEmpty(t, v.Handle)
}

func TestServer_ProtocolErrorsGoToSenderOnly(t *testing.T) {
	srv := NewServer(audio.NewRegistry())
	srv.Bind(&fakeSpeaker{server: srv})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	var e ErrorPayload
	require.NoError(t, DecodePayload(env, &e))
	assert.Equal(t, "protocol", e.Kind)
	assert.Contains(t, e.Message, "dance")
}

func TestServer_UnboundSpeaker(t *testing.T) {
	srv := NewServer(audio.NewRegistry())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, ts)
	send(t, conn, TypeStop, nil)
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
}

func TestServer_AudioHandles(t *testing.T) {
	registry := audio.NewRegistry()
	srv := NewServer(registry)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wav := audio.SilentWAV(100*time.Millisecond, 8000)
	res := registry.Create(wav, audio.FormatWAV)

	resp, err := http.Get(ts.URL + res.Handle)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, audio.FormatWAV.MIMEType(), resp.Header.Get("Content-Type"))
	assert.Equal(t, wav, body)

	res.Release()
	resp, err = http.Get(ts.URL + res.Handle)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/audio/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(audio.NewRegistry())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestServer_ListenAndServeStopsWithContext(t *testing.T) {
	srv := NewServer(audio.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestConsoleReporter(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	r := NewConsoleReporter(&out)

	_, ok := r.LastValue()
	assert.False(t, ok)

	r.Report("s1", "/audio/1")
	<-r.Reported()
	v, ok := r.LastValue()
	require.True(t, ok)
	assert.Equal(t, "/audio/1", v.Handle)

	r.Fail("s2", speech.ErrNoInput)
	<-r.Reported()
	e, ok := r.LastError()
	require.True(t, ok)
	assert.Equal(t, "no_input", e.Kind)

	assert.Contains(t, out.String(), "/audio/1")
	assert.Contains(t, out.String(), "no_input")
}
