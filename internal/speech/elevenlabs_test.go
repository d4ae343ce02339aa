package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkinghead/internal/audio"
)

func newElevenLabsTestProvider(t *testing.T, handler http.HandlerFunc) *ElevenLabsProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultElevenLabsConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL
	p, err := NewElevenLabsProvider(cfg)
	require.NoError(t, err)
	return p
}

func TestElevenLabs_Synthesize(t *testing.T) {
	var got elevenLabsRequest
	p := newElevenLabsTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/text-to-speech/"+ElevenLabsDefaultVoice, r.URL.Path)
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake-mp3"))
	})

	res, err := p.Synthesize(context.Background(), &Request{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3fake-mp3"), res.Audio)
	assert.Equal(t, audio.FormatMP3, res.Format)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, 0.0, got.VoiceSettings.Stability)
	assert.Equal(t, 1.0, got.VoiceSettings.SimilarityBoost)
	assert.True(t, got.VoiceSettings.UseSpeakerBoost)
}

func TestElevenLabs_VoiceOverride(t *testing.T) {
	p := newElevenLabsTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/custom", r.URL.Path)
		w.Write([]byte("ID3"))
	})

	_, err := p.Synthesize(context.Background(), &Request{Text: "hello", Voice: "custom"})
	require.NoError(t, err)
}

func TestElevenLabs_NonSuccessStatus(t *testing.T) {
	p := newElevenLabsTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	})

	_, err := p.Synthesize(context.Background(), &Request{Text: "hello"})

	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Contains(t, se.Body, "invalid api key")
}

func TestElevenLabs_ListVoices(t *testing.T) {
	p := newElevenLabsTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices", r.URL.Path)
		w.Write([]byte(`{"voices":[{"voice_id":"abc","name":"Adam"}]}`))
	})

	voices, err := p.ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"abc (Adam)"}, voices)
}

func TestElevenLabs_Config(t *testing.T) {
	_, err := NewElevenLabsProvider(ElevenLabsConfig{})
	assert.ErrorContains(t, err, "API key")

	_, err = NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", OutputFormat: "pcm_16000"})
	assert.ErrorContains(t, err, "unsupported")

	p, err := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "k", OutputFormat: "ulaw_8000"})
	require.NoError(t, err)
	assert.Equal(t, audio.FormatULaw, p.format)
}
