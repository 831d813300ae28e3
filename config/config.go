// Package config holds the settings shared by the translation server and the audio client.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sulaiman-shamasna/instant-translator/model"
)

const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8000
	DefaultAudioPath          = "/audio"
	DefaultSampleRate         = 16000
	DefaultChunkSize          = 4200 // frames per chunk
	DefaultAudioInput         = "default"
	DefaultDrainTimeout       = 5 * time.Second
	DefaultFileTailSilence    = 1500 * time.Millisecond
	DefaultSTTProvider        = ProviderOpenAI
	DefaultSTTModel           = "whisper-1"
	DefaultDeepgramURL        = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel      = "nova-2"
	DefaultTranslationModel   = "gpt-4o-mini"
	DefaultTargetLanguage     = "French"
	DefaultSegmentPolicy      = PolicySilence
	DefaultSegmentWindow      = 500 * time.Millisecond
	DefaultSegmentMaxDuration = 15 * time.Second
	DefaultSegmentFixed       = 5 * time.Second
	DefaultSegmentMinSpeech   = 500 * time.Millisecond
	DefaultEnergyThreshold    = 0.0005
	DefaultSilenceThreshold   = 0.015
	DefaultAPITimeout         = 20 * time.Second
	DefaultAPIMaxRetries      = 2
	DefaultAPIRetryBackoff    = 500 * time.Millisecond
	DefaultSessionQueueSize   = 16
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// Speech-to-text providers.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
)

// Segmentation policies.
const (
	PolicySilence = "silence"
	PolicyFixed   = "fixed"
)

// Config is the complete configuration for both binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Client      ClientConfig      `yaml:"client"`
	Audio       AudioConfig       `yaml:"audio"`
	Segment     SegmentConfig     `yaml:"segment"`
	STT         STTConfig         `yaml:"stt"`
	Translation TranslationConfig `yaml:"translation"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig is where the server listens.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	QueueSize int    `yaml:"queue_size"`
}

// ClientConfig configures the audio client.
type ClientConfig struct {
	// URL overrides the ws://host:port/audio address derived from ServerConfig.
	URL          string        `yaml:"url"`
	AudioInput   string        `yaml:"audio_input"`
	AudioFile    string        `yaml:"audio_file"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	TailSilence  time.Duration `yaml:"tail_silence"`
}

// AudioConfig is constant for a session.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	ChunkSize  int `yaml:"chunk_size"`
}

// SegmentConfig selects how the server cuts the stream into utterances.
type SegmentConfig struct {
	Policy           string        `yaml:"policy"`
	Window           time.Duration `yaml:"window"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	FixedDuration    time.Duration `yaml:"fixed_duration"`
	MinSpeech        time.Duration `yaml:"min_speech"`
	EnergyThreshold  float64       `yaml:"energy_threshold"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
}

// STTConfig selects and authenticates the speech-to-text backend.
type STTConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	OpenAIKey     string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	DeepgramKey   string `yaml:"-"`
	DeepgramURL   string `yaml:"deepgram_url"`
	DeepgramModel string `yaml:"deepgram_model"`
}

// TranslationConfig configures the translation backend.
type TranslationConfig struct {
	Model          string `yaml:"model"`
	TargetLanguage string `yaml:"target_language"`
}

// APIConfig bounds every external API call.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every default applied.
func Default() Config {
	cfg := Config{API: APIConfig{MaxRetries: DefaultAPIMaxRetries}}
	_ = cfg.Validate()
	return cfg
}

// Validate applies defaults and rejects out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.QueueSize == 0 {
		c.Server.QueueSize = DefaultSessionQueueSize
	}
	if c.Server.QueueSize < 0 {
		return invalid("session queue size must be positive, got %d", c.Server.QueueSize)
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.SampleRate < 0 {
		return invalid("sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.ChunkSize == 0 {
		c.Audio.ChunkSize = DefaultChunkSize
	}
	if c.Audio.ChunkSize < 0 {
		return invalid("chunk size must be positive, got %d", c.Audio.ChunkSize)
	}

	if c.Client.AudioInput == "" {
		c.Client.AudioInput = DefaultAudioInput
	}
	if c.Client.DrainTimeout == 0 {
		c.Client.DrainTimeout = DefaultDrainTimeout
	}
	if c.Client.TailSilence == 0 {
		c.Client.TailSilence = DefaultFileTailSilence
	}
	if c.Client.URL != "" {
		u, err := url.Parse(c.Client.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return invalid("server url must be a ws:// or wss:// URL, got %q", c.Client.URL)
		}
	}

	c.Segment.Policy = strings.ToLower(strings.TrimSpace(c.Segment.Policy))
	if c.Segment.Policy == "" {
		c.Segment.Policy = DefaultSegmentPolicy
	}
	if c.Segment.Policy != PolicySilence && c.Segment.Policy != PolicyFixed {
		return invalid("segment policy must be %q or %q, got %q", PolicySilence, PolicyFixed, c.Segment.Policy)
	}
	if c.Segment.Window == 0 {
		c.Segment.Window = DefaultSegmentWindow
	}
	if c.Segment.MaxDuration == 0 {
		c.Segment.MaxDuration = DefaultSegmentMaxDuration
	}
	if c.Segment.FixedDuration == 0 {
		c.Segment.FixedDuration = DefaultSegmentFixed
	}
	if c.Segment.MinSpeech == 0 {
		c.Segment.MinSpeech = DefaultSegmentMinSpeech
	}
	if c.Segment.EnergyThreshold == 0 {
		c.Segment.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.Segment.SilenceThreshold == 0 {
		c.Segment.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.Segment.Window < 0 || c.Segment.MaxDuration < 0 || c.Segment.FixedDuration < 0 || c.Segment.MinSpeech < 0 {
		return invalid("segment durations must be positive")
	}
	if !spansSample(c.Segment.Window, c.Audio.SampleRate) {
		return invalid("segment window %s is shorter than one sample at %d Hz", c.Segment.Window, c.Audio.SampleRate)
	}
	if !spansSample(c.Segment.FixedDuration, c.Audio.SampleRate) {
		return invalid("fixed segment duration %s is shorter than one sample at %d Hz", c.Segment.FixedDuration, c.Audio.SampleRate)
	}
	if c.Segment.MaxDuration < c.Segment.Window {
		return invalid("segment max duration %s is shorter than the analysis window %s", c.Segment.MaxDuration, c.Segment.Window)
	}

	c.STT.Provider = strings.ToLower(strings.TrimSpace(c.STT.Provider))
	if c.STT.Provider == "" {
		c.STT.Provider = DefaultSTTProvider
	}
	if c.STT.Provider != ProviderOpenAI && c.STT.Provider != ProviderDeepgram {
		return invalid("stt provider must be %q or %q, got %q", ProviderOpenAI, ProviderDeepgram, c.STT.Provider)
	}
	if c.STT.Model == "" {
		c.STT.Model = DefaultSTTModel
	}
	if c.STT.DeepgramURL == "" {
		c.STT.DeepgramURL = DefaultDeepgramURL
	}
	if c.STT.DeepgramModel == "" {
		c.STT.DeepgramModel = DefaultDeepgramModel
	}

	if c.Translation.Model == "" {
		c.Translation.Model = DefaultTranslationModel
	}
	if strings.TrimSpace(c.Translation.TargetLanguage) == "" {
		c.Translation.TargetLanguage = DefaultTargetLanguage
	}

	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.Timeout < 0 {
		return invalid("api timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.MaxRetries < 0 {
		return invalid("api max retries must be >= 0, got %d", c.API.MaxRetries)
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultAPIRetryBackoff
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	return nil
}

// ValidateServer checks that credentials for the selected providers are present.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.STT.OpenAIKey == "" {
		// Translation always goes through OpenAI.
		return invalid("OPENAI_API_KEY must be set")
	}
	if c.STT.Provider == ProviderDeepgram && c.STT.DeepgramKey == "" {
		return invalid("DEEPGRAM_API_KEY must be set when STT_PROVIDER=%s", ProviderDeepgram)
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ServerURL is the WebSocket URL the client dials.
func (c *Config) ServerURL() string {
	if c.Client.URL != "" {
		return c.Client.URL
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(c.Server.Port)), Path: DefaultAudioPath}
	return u.String()
}

// ChunkBytes is the size in bytes of one client chunk (s16 mono).
func (c *Config) ChunkBytes() int {
	return c.Audio.ChunkSize * 2
}

// spansSample reports whether d holds at least one whole sample at rate.
func spansSample(d time.Duration, rate int) bool {
	return int64(d)*int64(rate) >= int64(time.Second)
}

func invalid(format string, args ...any) error {
	return errors.Wrap(model.ErrConfiguration, fmt.Sprintf(format, args...))
}
