package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"talkinghead/internal/audio"
)

// SystemProvider renders speech with the operating system's voice: `say` on macOS
// and System.Speech through PowerShell on Windows. Both write a WAV file.
type SystemProvider struct {
	goos   string
	path   string
	voice  string
	volume float64
}

func NewSystemProvider(voice string, volume float64) (*SystemProvider, error) {
	path, err := findSystemExecutable(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	if volume <= 0 {
		volume = 1.0
	}
	return &SystemProvider{goos: runtime.GOOS, path: path, voice: voice, volume: volume}, nil
}

func findSystemExecutable(goos string) (string, error) {
	var name string
	switch goos {
	case "darwin":
		name = "say"
	case "windows":
		name = "powershell"
	default:
		return "", fmt.Errorf("no system voice on %s", goos)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

func (s *SystemProvider) Name() string {
	return string(ProviderSystem)
}

func (s *SystemProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	dir, err := os.MkdirTemp("", "talkinghead-system-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "speech.wav")

	var cmd *exec.Cmd
	if s.goos == "windows" {
		cmd = exec.CommandContext(ctx, s.path, "-NoProfile", "-NonInteractive", "-Command", sapiScript)
		// text goes through the environment so it is never parsed as script
		cmd.Env = append(os.Environ(), sapiEnv(req, s.voice, s.volume, out)...)
	} else {
		cmd = exec.CommandContext(ctx, s.path, sayArgs(req, s.voice, out)...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Body: strings.TrimSpace(stderr.String()), Err: err}
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Err: err}
	}
	return &Result{Audio: data, Format: audio.FormatWAV}, nil
}

func sayArgs(req *Request, defaultVoice, out string) []string {
	args := []string{"--file-format=WAVE", "--data-format=LEI16@22050", "-o", out}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}
	if voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}

	// words per minute, default is ~175
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	args = append(args, "-r", strconv.Itoa(int(175*speed)))

	return append(args, "--", req.Text)
}

const sapiScript = `Add-Type -AssemblyName System.Speech
$synth = New-Object System.Speech.Synthesis.SpeechSynthesizer
if ($env:TALKINGHEAD_SAPI_VOICE) { $synth.SelectVoice($env:TALKINGHEAD_SAPI_VOICE) }
$synth.Rate = [int]$env:TALKINGHEAD_SAPI_RATE
$synth.Volume = [int]$env:TALKINGHEAD_SAPI_VOLUME
$synth.SetOutputToWaveFile($env:TALKINGHEAD_SAPI_OUT)
$synth.Speak($env:TALKINGHEAD_SAPI_TEXT)
$synth.Dispose()`

func sapiEnv(req *Request, defaultVoice string, volume float64, out string) []string {
	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}
	if voice == "default" {
		voice = ""
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1.0
	}
	// SAPI rate is -10..10 around 0, volume 0..100
	rate := int(speed*10) - 10
	if rate < -10 {
		rate = -10
	} else if rate > 10 {
		rate = 10
	}
	return []string{
		"TALKINGHEAD_SAPI_VOICE=" + voice,
		"TALKINGHEAD_SAPI_RATE=" + strconv.Itoa(rate),
		"TALKINGHEAD_SAPI_VOLUME=" + strconv.Itoa(int(volume*100)),
		"TALKINGHEAD_SAPI_OUT=" + out,
		"TALKINGHEAD_SAPI_TEXT=" + req.Text,
	}
}

func (s *SystemProvider) ListVoices(ctx context.Context) ([]string, error) {
	if s.goos == "windows" {
		output, err := exec.CommandContext(ctx, s.path, "-NoProfile", "-NonInteractive", "-Command",
			`Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).GetInstalledVoices() | ForEach-Object { $_.VoiceInfo.Name }`).Output()
		if err != nil {
			return nil, err
		}
		return nonEmptyLines(string(output)), nil
	}
	output, err := exec.CommandContext(ctx, s.path, "-v", "?").Output()
	if err != nil {
		return nil, err
	}
	return parseSayVoices(string(output)), nil
}

// parseSayVoices reads lines of the form "Name    en_US    # sample sentence".
func parseSayVoices(output string) []string {
	voices := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// names may contain spaces; the locale is the last field
		voices = append(voices, strings.Join(fields[:len(fields)-1], " "))
	}
	return voices
}

func nonEmptyLines(s string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
