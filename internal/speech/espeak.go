package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"talkinghead/internal/audio"
)

// ESpeakProvider synthesizes locally with eSpeak/eSpeak-NG, capturing WAV from stdout.
type ESpeakProvider struct {
	path   string
	voice  string
	volume float64
}

func NewESpeakProvider(voice string, volume float64) (*ESpeakProvider, error) {
	path, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}
	if volume <= 0 {
		volume = 1.0
	}
	return &ESpeakProvider{path: path, voice: voice, volume: volume}, nil
}

func findESpeakExecutable() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

func (e *ESpeakProvider) Name() string {
	return string(ProviderESpeak)
}

func (e *ESpeakProvider) args(req *Request) []string {
	args := []string{"--stdout"}

	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}
	if voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}

	// words per minute, eSpeak's default is 175
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	args = append(args, "-s", strconv.Itoa(int(175*speed)))

	// amplitude 0-200, default 100
	args = append(args, "-a", strconv.Itoa(int(100*e.volume)))

	return append(args, "--", req.Text)
}

func (e *ESpeakProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, e.args(req)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &SynthesisError{Provider: e.Name(), Body: strings.TrimSpace(stderr.String()), Err: err}
	}
	return &Result{Audio: stdout.Bytes(), Format: audio.FormatWAV}, nil
}

func (e *ESpeakProvider) ListVoices(ctx context.Context) ([]string, error) {
	output, err := exec.CommandContext(ctx, e.path, "--voices").Output()
	if err != nil {
		return nil, err
	}
	return parseESpeakVoices(string(output)), nil
}

func parseESpeakVoices(output string) []string {
	lines := strings.Split(output, "\n")
	voices := make([]string, 0)

	for i, line := range lines {
		// Skip header line
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		// Pty Language Age/Gender VoiceName File Other Languages
		fields := strings.Fields(line)
		if len(fields) >= 4 {
			voices = append(voices, fields[3])
		}
	}

	return voices
}
