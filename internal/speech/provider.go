package speech

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

type ProviderType string

const (
	ProviderMock       ProviderType = "mock"
	ProviderElevenLabs ProviderType = "elevenlabs"
	ProviderOpenAI     ProviderType = "openai"
	ProviderGoogle     ProviderType = "google"
	ProviderESpeak     ProviderType = "espeak"
	ProviderSystem     ProviderType = "system" // say on macOS, SAPI on Windows
	ProviderAuto       ProviderType = "auto"   // pick the best one with credentials
)

func (p ProviderType) String() string {
	return string(p)
}

type Config struct {
	Provider   string           `mapstructure:"provider"`
	Voice      string           `mapstructure:"voice"`
	Speed      float64          `mapstructure:"speed"`
	Volume     float64          `mapstructure:"volume"`
	CacheDir   string           `mapstructure:"cache_dir"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Google     GoogleConfig     `mapstructure:"google"`
}

// NewProvider builds the configured provider, wrapped in the disk cache when CacheDir is set.
func NewProvider(ctx context.Context, config Config) (Provider, error) {
	kind := ProviderType(config.Provider)
	if kind == ProviderAuto || kind == "" {
		kind = bestProvider(config)
		logrus.WithField("provider", kind).Info("auto-selected speech provider")
	}

	var (
		provider Provider
		err      error
	)
	switch kind {
	case ProviderMock:
		provider = NewMockProvider()
	case ProviderElevenLabs:
		provider, err = NewElevenLabsProvider(config.ElevenLabs)
	case ProviderOpenAI:
		provider, err = NewOpenAIProvider(config.OpenAI)
	case ProviderGoogle:
		provider, err = NewGoogleProvider(ctx, config.Google)
	case ProviderESpeak:
		provider, err = NewESpeakProvider(config.Voice, config.Volume)
	case ProviderSystem:
		provider, err = NewSystemProvider(config.Voice, config.Volume)
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", config.Provider)
	}
	if err != nil {
		return nil, err
	}

	if config.CacheDir == "" || kind == ProviderMock {
		return provider, nil
	}
	return NewCachingProvider(provider, config.CacheDir)
}

// bestProvider prefers cloud voices with credentials, then the platform voice, then eSpeak, then the mock.
func bestProvider(config Config) ProviderType {
	switch {
	case config.ElevenLabs.APIKey != "":
		return ProviderElevenLabs
	case config.OpenAI.APIKey != "":
		return ProviderOpenAI
	case hasGoogleCredentials(config.Google):
		return ProviderGoogle
	}
	if _, err := findSystemExecutable(runtime.GOOS); err == nil {
		return ProviderSystem
	}
	if _, err := findESpeakExecutable(); err == nil {
		return ProviderESpeak
	}
	return ProviderMock
}

// AvailableProviders returns the providers usable with the current configuration.
func AvailableProviders(config Config) []ProviderType {
	providers := []ProviderType{ProviderMock}
	if config.ElevenLabs.APIKey != "" {
		providers = append(providers, ProviderElevenLabs)
	}
	if config.OpenAI.APIKey != "" {
		providers = append(providers, ProviderOpenAI)
	}
	if hasGoogleCredentials(config.Google) {
		providers = append(providers, ProviderGoogle)
	}
	if _, err := findSystemExecutable(runtime.GOOS); err == nil {
		providers = append(providers, ProviderSystem)
	}
	if _, err := findESpeakExecutable(); err == nil {
		providers = append(providers, ProviderESpeak)
	}
	return providers
}

func hasGoogleCredentials(config GoogleConfig) bool {
	if config.CredentialsFile != "" {
		return true
	}
	_, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return ok
}
