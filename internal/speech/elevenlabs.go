package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
)

const (
	ElevenLabsAPIEndpoint  = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB" // Adam
)

type ElevenLabsConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	VoiceID         string        `mapstructure:"voice_id"`
	ModelID         string        `mapstructure:"model_id"`
	OutputFormat    string        `mapstructure:"output_format"`
	Stability       float64       `mapstructure:"stability"`
	SimilarityBoost float64       `mapstructure:"similarity_boost"`
	Style           float64       `mapstructure:"style"`
	SpeakerBoost    bool          `mapstructure:"speaker_boost"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func DefaultElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		BaseURL:         ElevenLabsAPIEndpoint,
		VoiceID:         ElevenLabsDefaultVoice,
		OutputFormat:    "mp3_44100_128",
		Stability:       0.0,
		SimilarityBoost: 1.0,
		Style:           0.0,
		SpeakerBoost:    true,
		Timeout:         30 * time.Second,
	}
}

type ElevenLabsProvider struct {
	config ElevenLabsConfig
	format audio.Format
	client *http.Client
	log    *logrus.Entry
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

func NewElevenLabsProvider(config ElevenLabsConfig) (*ElevenLabsProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key not set")
	}
	if config.BaseURL == "" {
		config.BaseURL = ElevenLabsAPIEndpoint
	}
	if config.VoiceID == "" {
		config.VoiceID = ElevenLabsDefaultVoice
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "mp3_44100_128"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	var format audio.Format
	switch {
	case strings.HasPrefix(config.OutputFormat, "mp3"):
		format = audio.FormatMP3
	case config.OutputFormat == "ulaw_8000":
		format = audio.FormatULaw
	default:
		return nil, fmt.Errorf("unsupported ElevenLabs output format %q", config.OutputFormat)
	}

	return &ElevenLabsProvider{
		config: config,
		format: format,
		client: &http.Client{Timeout: config.Timeout},
		log:    logrus.WithField("provider", "elevenlabs"),
	}, nil
}

func (p *ElevenLabsProvider) Name() string {
	return string(ProviderElevenLabs)
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	voiceID := req.Voice
	if voiceID == "" || voiceID == "default" {
		voiceID = p.config.VoiceID
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: p.config.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       p.config.Stability,
			SimilarityBoost: p.config.SimilarityBoost,
			Style:           p.config.Style,
			UseSpeakerBoost: p.config.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		strings.TrimSuffix(p.config.BaseURL, "/"), url.PathEscape(voiceID), url.QueryEscape(p.config.OutputFormat))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.config.APIKey)
	httpReq.Header.Set("Accept", p.format.MIMEType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &SynthesisError{Provider: p.Name(), Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Status: resp.StatusCode, Err: fmt.Errorf("read audio: %w", err)}
	}

	p.log.WithFields(logrus.Fields{
		"voice":   voiceID,
		"bytes":   len(data),
		"elapsed": time.Since(start),
	}).Info("ElevenLabs synthesis complete")

	return &Result{Audio: data, Format: p.format}, nil
}

func (p *ElevenLabsProvider) ListVoices(ctx context.Context) ([]string, error) {
	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list voices: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}

	voices := make([]string, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		voices = append(voices, fmt.Sprintf("%s (%s)", v.VoiceID, v.Name))
	}
	return voices, nil
}
