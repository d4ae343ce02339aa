package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"talkinghead/internal/audio"
)

const mockSampleRate = 8000

// MockProvider returns silent WAV audio whose length follows the word count.
type MockProvider struct {
	// Delay simulates network latency; the call honours ctx while waiting.
	Delay time.Duration
	// Err, when set, is returned instead of audio.
	Err error
	// Words per minute used to size the clip.
	WPM float64

	mu    sync.Mutex
	calls []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{WPM: 150}
}

func (m *MockProvider) Name() string {
	return string(ProviderMock)
}

func (m *MockProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req.Text)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	return &Result{
		Audio:  audio.SilentWAV(m.readingTime(req), mockSampleRate),
		Format: audio.FormatWAV,
	}, nil
}

func (m *MockProvider) readingTime(req *Request) time.Duration {
	wpm := m.WPM
	if wpm <= 0 {
		wpm = 150
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	words := len(strings.Fields(req.Text))
	d := time.Duration(float64(words) / wpm / speed * float64(time.Minute))
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	return d
}

func (m *MockProvider) ListVoices(ctx context.Context) ([]string, error) {
	return []string{"mock-voice"}, nil
}

// Calls returns the texts synthesized so far.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
