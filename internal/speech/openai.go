package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
)

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	Voice   string `mapstructure:"voice"`
	Format  string `mapstructure:"format"`
}

func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:  string(openai.TTSModel1),
		Voice:  string(openai.VoiceAlloy),
		Format: string(openai.SpeechResponseFormatMp3),
	}
}

type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	format audio.Format
	log    *logrus.Entry
}

func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	defaults := DefaultOpenAIConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Voice == "" {
		config.Voice = defaults.Voice
	}
	if config.Format == "" {
		config.Format = defaults.Format
	}

	format, err := audio.ParseFormat(config.Format)
	if err != nil || format == audio.FormatULaw {
		return nil, fmt.Errorf("unsupported OpenAI response format %q", config.Format)
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		format: format,
		log:    logrus.WithField("provider", "openai"),
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return string(ProviderOpenAI)
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	voice := req.Voice
	if voice == "" || voice == "default" {
		voice = p.config.Voice
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.config.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(p.config.Format),
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Status: openAIStatus(err), Err: err}
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, &SynthesisError{Provider: p.Name(), Err: fmt.Errorf("read audio: %w", err)}
	}

	p.log.WithFields(logrus.Fields{
		"voice": voice,
		"bytes": len(data),
	}).Info("OpenAI synthesis complete")

	return &Result{Audio: data, Format: p.format}, nil
}

func (p *OpenAIProvider) ListVoices(ctx context.Context) ([]string, error) {
	return []string{
		string(openai.VoiceAlloy),
		string(openai.VoiceEcho),
		string(openai.VoiceFable),
		string(openai.VoiceOnyx),
		string(openai.VoiceNova),
		string(openai.VoiceShimmer),
	}, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
