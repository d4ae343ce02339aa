package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"talkinghead/internal/audio"
)

// googleChunkLimit stays a little under the 5000 byte request cap.
const googleChunkLimit = 4800

type GoogleConfig struct {
	Voice           string `mapstructure:"voice"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type GoogleProvider struct {
	client *texttospeech.Client
	voice  string
	log    *logrus.Entry
}

func NewGoogleProvider(ctx context.Context, config GoogleConfig) (*GoogleProvider, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	voice := config.Voice
	if voice == "" {
		voice = "en-US-Chirp3-HD-Charon"
	}

	return &GoogleProvider{
		client: client,
		voice:  voice,
		log:    logrus.WithField("provider", "google"),
	}, nil
}

func (g *GoogleProvider) Name() string {
	return string(ProviderGoogle)
}

func (g *GoogleProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	voice := req.Voice
	if voice == "" || voice == "default" {
		voice = g.voice
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}
	// Chirp voices reject speakingRate
	if !strings.Contains(strings.ToLower(voice), "chirp") && req.Speed > 0 {
		audioCfg.SpeakingRate = req.Speed
	}

	// MP3 frames concatenate cleanly, so long text is synthesized chunk by chunk
	var out bytes.Buffer
	chunks := splitIntoChunks(req.Text, googleChunkLimit)
	for i, chunk := range chunks {
		resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: languageCode(voice),
				Name:         voice,
			},
			AudioConfig: audioCfg,
		})
		if err != nil {
			return nil, &SynthesisError{Provider: g.Name(), Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		out.Write(resp.AudioContent)
	}

	g.log.WithFields(logrus.Fields{
		"voice":  voice,
		"chunks": len(chunks),
		"bytes":  out.Len(),
	}).Info("Google synthesis complete")

	return &Result{Audio: out.Bytes(), Format: audio.FormatMP3}, nil
}

func (g *GoogleProvider) ListVoices(ctx context.Context) ([]string, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, err
	}
	voices := []string{}
	for _, v := range resp.Voices {
		voices = append(voices, v.Name)
	}
	return voices, nil
}

func (g *GoogleProvider) Close() error {
	return g.client.Close()
}

// languageCode takes "en-GB" out of "en-GB-Chirp3-HD-Umbriel".
func languageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

func splitIntoChunks(text string, limit int) []string {
	var chunks []string
	runes := []rune(text) // safe for UTF-8
	for i := 0; i < len(runes); i += limit {
		end := i + limit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
