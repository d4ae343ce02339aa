package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"talkinghead/internal/speech"
)

const (
	AppName   = "talkinghead"
	EnvPrefix = "TALKINGHEAD"
)

type Config struct {
	Speech  speech.Config `mapstructure:"speech"`
	Scene   SceneConfig   `mapstructure:"scene"`
	Render  RenderConfig  `mapstructure:"render"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Server  ServerConfig  `mapstructure:"server"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
}

type SceneConfig struct {
	Mesh        string        `mapstructure:"mesh"`
	Clips       string        `mapstructure:"clips"`
	CacheDir    string        `mapstructure:"cache_dir"`
	CacheMaxAge time.Duration `mapstructure:"cache_max_age"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
	// Preload loads the avatar at startup instead of after the first synthesized speech.
	Preload     bool          `mapstructure:"preload"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
}

type RenderConfig struct {
	FPS           int           `mapstructure:"fps"`
	MeasuredDelta bool          `mapstructure:"measured_delta"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type AudioConfig struct {
	// Output is "speaker" for the sound card or "clock" for headless hosts.
	Output     string `mapstructure:"output"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Dir is where caches and the journal live by default.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, "."+AppName)
}

func SetDefaults() {
	dir := Dir()

	viper.SetDefault("speech.provider", "auto") // Auto-select best provider
	viper.SetDefault("speech.voice", "default")
	viper.SetDefault("speech.speed", 1.0)
	viper.SetDefault("speech.volume", 0.8)
	viper.SetDefault("speech.cache_dir", filepath.Join(dir, "cache", "speech"))

	el := speech.DefaultElevenLabsConfig()
	viper.SetDefault("speech.elevenlabs.api_key", "")
	viper.SetDefault("speech.elevenlabs.base_url", el.BaseURL)
	viper.SetDefault("speech.elevenlabs.voice_id", el.VoiceID)
	viper.SetDefault("speech.elevenlabs.model_id", "")
	viper.SetDefault("speech.elevenlabs.output_format", el.OutputFormat)
	viper.SetDefault("speech.elevenlabs.stability", el.Stability)
	viper.SetDefault("speech.elevenlabs.similarity_boost", el.SimilarityBoost)
	viper.SetDefault("speech.elevenlabs.style", el.Style)
	viper.SetDefault("speech.elevenlabs.speaker_boost", el.SpeakerBoost)
	viper.SetDefault("speech.elevenlabs.timeout", el.Timeout)

	oa := speech.DefaultOpenAIConfig()
	viper.SetDefault("speech.openai.api_key", "")
	viper.SetDefault("speech.openai.base_url", "")
	viper.SetDefault("speech.openai.model", oa.Model)
	viper.SetDefault("speech.openai.voice", oa.Voice)
	viper.SetDefault("speech.openai.format", oa.Format)

	viper.SetDefault("speech.google.voice", "en-US-Chirp3-HD-Charon")
	viper.SetDefault("speech.google.credentials_file", "")

	viper.SetDefault("scene.mesh", "assets/avatar.glb")
	viper.SetDefault("scene.clips", "assets/animations.glb")
	viper.SetDefault("scene.cache_dir", filepath.Join(dir, "cache", "assets"))
	viper.SetDefault("scene.cache_max_age", 7*24*time.Hour)
	viper.SetDefault("scene.load_timeout", 2*time.Minute)
	viper.SetDefault("scene.preload", false)
	viper.SetDefault("scene.width", 1280)
	viper.SetDefault("scene.height", 720)

	viper.SetDefault("render.fps", 60)
	viper.SetDefault("render.measured_delta", false)
	viper.SetDefault("render.stats_interval", 10*time.Second)

	viper.SetDefault("audio.output", "speaker")
	viper.SetDefault("audio.sample_rate", 44100)

	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("journal.enabled", true)
	viper.SetDefault("journal.path", filepath.Join(dir, "journal.db"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// Init loads .env, then the config file, then TALKINGHEAD_* environment overrides.
// A missing config file is fine; a broken one is not.
func Init(configFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(AppName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/." + AppName)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// the providers' own variable names work too
	viper.BindEnv("speech.elevenlabs.api_key", EnvPrefix+"_SPEECH_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY")
	viper.BindEnv("speech.openai.api_key", EnvPrefix+"_SPEECH_OPENAI_API_KEY", "OPENAI_API_KEY")
	viper.BindEnv("speech.google.credentials_file", EnvPrefix+"_SPEECH_GOOGLE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logrus.Debug("No config file found, using defaults")
			return nil
		}
		return err
	}
	logrus.WithField("file", viper.ConfigFileUsed()).Debug("Loaded config file")
	return nil
}

func Load() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Watch reloads the config when the file changes and hands the result to onChange.
func Watch(onChange func(*Config)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		logrus.WithFields(logrus.Fields{
			"file": e.Name,
			"op":   e.Op.String(),
		}).Info("Config file changed")
		c, err := Load()
		if err != nil {
			logrus.WithError(err).Warn("Failed to reload config")
			return
		}
		onChange(c)
	})
	viper.WatchConfig()
}

// ConfigureLogging applies level and formatter to the standard logrus logger.
func ConfigureLogging(c LogConfig) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
