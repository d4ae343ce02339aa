// Package speech turns text into audio resources through a pluggable synthesis provider.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
)

// ErrNoInput rejects empty text before any provider is contacted.
var ErrNoInput = errors.New("no input text")

// SynthesisError is a failed provider call. Status is the upstream HTTP status when known.
type SynthesisError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *SynthesisError) Error() string {
	msg := e.Provider + " synthesis failed"
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Request is what a provider receives for one synthesis.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Result is the encoded audio a provider returns.
type Result struct {
	Audio  []byte
	Format audio.Format
}

// Provider performs exactly one outbound synthesis per call and never retries.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req *Request) (*Result, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]string, error)
}

// Client validates input and registers provider output as revocable audio resources.
type Client struct {
	provider Provider
	registry *audio.Registry
	voice    string
	speed    float64
	log      *logrus.Entry
}

func NewClient(provider Provider, registry *audio.Registry, voice string, speed float64) *Client {
	return &Client{
		provider: provider,
		registry: registry,
		voice:    voice,
		speed:    speed,
		log:      logrus.WithField("component", "speech"),
	}
}

func (c *Client) Provider() Provider {
	return c.provider
}

// Synthesize produces a new resource for text. The caller owns the resource and must
// Release it.
func (c *Client) Synthesize(ctx context.Context, text string) (*audio.Resource, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoInput
	}

	result, err := c.provider.Synthesize(ctx, &Request{Text: text, Voice: c.voice, Speed: c.speed})
	if err != nil {
		var se *SynthesisError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &SynthesisError{Provider: c.provider.Name(), Err: err}
	}
	if result == nil || len(result.Audio) == 0 {
		return nil, &SynthesisError{Provider: c.provider.Name(), Err: errors.New("empty audio payload")}
	}

	format := result.Format
	if format == "" {
		format = audio.Sniff(result.Audio)
	}

	res := c.registry.Create(result.Audio, format)
	c.log.WithFields(logrus.Fields{
		"provider": c.provider.Name(),
		"handle":   res.Handle,
		"bytes":    len(result.Audio),
		"format":   format,
	}).Debug("speech synthesized")

	return res, nil
}
