package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sulaiman-shamasna/instant-translator/model"
)

// Environment variable names.
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvOpenAIKey        = "OPENAI_API_KEY"
	EnvOpenAIBaseURL    = "OPENAI_BASE_URL"
	EnvDeepgramKey      = "DEEPGRAM_API_KEY"
	EnvDeepgramURL      = "DEEPGRAM_URL"
	EnvDeepgramModel    = "DEEPGRAM_MODEL"
	EnvSTTProvider      = "STT_PROVIDER"
	EnvSTTModel         = "STT_MODEL"
	EnvSourceLanguage   = "SOURCE_LANGUAGE"
	EnvTranslationModel = "TRANSLATION_MODEL"
	EnvTargetLanguage   = "TARGET_LANGUAGE"
	EnvHost             = "HOST"
	EnvPort             = "PORT"
	EnvServerURL        = "SERVER_URL"
	EnvSampleRate       = "SAMPLE_RATE"
	EnvChunkSize        = "CHUNK_SIZE"
	EnvAudioInput       = "AUDIO_INPUT"
	EnvAudioFile        = "AUDIO_FILE"
	EnvDrainTimeout     = "CLIENT_DRAIN_TIMEOUT"
	EnvTailSilence      = "AUDIO_FILE_TAIL_SILENCE"
	EnvSegmentPolicy    = "SEGMENT_POLICY"
	EnvSegmentWindow    = "SEGMENT_WINDOW"
	EnvSegmentMax       = "SEGMENT_MAX_DURATION"
	EnvSegmentFixed     = "SEGMENT_FIXED_DURATION"
	EnvSegmentMinSpeech = "SEGMENT_MIN_SPEECH"
	EnvEnergyThreshold  = "SEGMENT_ENERGY_THRESHOLD"
	EnvSilenceThreshold = "SEGMENT_SILENCE_THRESHOLD"
	EnvAPITimeout       = "API_TIMEOUT"
	EnvAPIMaxRetries    = "API_MAX_RETRIES"
	EnvAPIRetryBackoff  = "API_RETRY_BACKOFF"
	EnvQueueSize        = "SESSION_QUEUE_SIZE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
)

// Loader reads configuration from an optional YAML file and the environment.
// Environment values win over the file. Tests override Lookup to inject maps.
type Loader struct {
	Lookup func(string) (string, bool)
	// EnvFiles are dotenv files consulted for keys Lookup does not know.
	// A missing file is not an error.
	EnvFiles []string
}

// Load builds and validates a Config. It does not check credentials; servers call
// ValidateServer on the result.
func (l Loader) Load() (Config, error) {
	lookup := l.lookup()

	cfg := Config{API: APIConfig{MaxRetries: DefaultAPIMaxRetries}}

	if path, ok := lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		if err := applyYAMLFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	p := parser{lookup: lookup}
	p.str(EnvOpenAIKey, &cfg.STT.OpenAIKey)
	p.str(EnvOpenAIBaseURL, &cfg.STT.OpenAIBaseURL)
	p.str(EnvDeepgramKey, &cfg.STT.DeepgramKey)
	p.str(EnvDeepgramURL, &cfg.STT.DeepgramURL)
	p.str(EnvDeepgramModel, &cfg.STT.DeepgramModel)
	p.str(EnvSTTProvider, &cfg.STT.Provider)
	p.str(EnvSTTModel, &cfg.STT.Model)
	p.str(EnvSourceLanguage, &cfg.STT.Language)
	p.str(EnvTranslationModel, &cfg.Translation.Model)
	p.str(EnvTargetLanguage, &cfg.Translation.TargetLanguage)
	p.str(EnvHost, &cfg.Server.Host)
	p.integer(EnvPort, &cfg.Server.Port)
	p.str(EnvServerURL, &cfg.Client.URL)
	p.integer(EnvSampleRate, &cfg.Audio.SampleRate)
	p.integer(EnvChunkSize, &cfg.Audio.ChunkSize)
	p.str(EnvAudioInput, &cfg.Client.AudioInput)
	p.str(EnvAudioFile, &cfg.Client.AudioFile)
	p.duration(EnvDrainTimeout, &cfg.Client.DrainTimeout)
	p.duration(EnvTailSilence, &cfg.Client.TailSilence)
	p.str(EnvSegmentPolicy, &cfg.Segment.Policy)
	p.duration(EnvSegmentWindow, &cfg.Segment.Window)
	p.duration(EnvSegmentMax, &cfg.Segment.MaxDuration)
	p.duration(EnvSegmentFixed, &cfg.Segment.FixedDuration)
	p.duration(EnvSegmentMinSpeech, &cfg.Segment.MinSpeech)
	p.float(EnvEnergyThreshold, &cfg.Segment.EnergyThreshold)
	p.float(EnvSilenceThreshold, &cfg.Segment.SilenceThreshold)
	p.duration(EnvAPITimeout, &cfg.API.Timeout)
	p.integer(EnvAPIMaxRetries, &cfg.API.MaxRetries)
	p.duration(EnvAPIRetryBackoff, &cfg.API.RetryBackoff)
	p.integer(EnvQueueSize, &cfg.Server.QueueSize)
	p.str(EnvLogLevel, &cfg.Logging.Level)
	p.str(EnvLogFormat, &cfg.Logging.Format)
	if p.err != nil {
		return Config{}, p.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) lookup() func(string) (string, bool) {
	primary := l.Lookup
	if primary == nil {
		primary = os.LookupEnv
	}
	if len(l.EnvFiles) == 0 {
		return primary
	}

	existing := make([]string, 0, len(l.EnvFiles))
	for _, f := range l.EnvFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return primary
	}
	dotenv, err := godotenv.Read(existing...)
	if err != nil {
		return primary
	}
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func applyYAMLFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(model.ErrConfiguration, "read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.Wrapf(model.ErrConfiguration, "parse config file %s: %v", path, err)
	}
	return nil
}

// parser applies env overrides and remembers the first malformed value.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) value(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, target *string) {
	if v, ok := p.value(key); ok {
		*target = v
	}
}

func (p *parser) integer(key string, target *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = errors.Wrapf(model.ErrConfiguration, "%s: %q is not an integer", key, v)
		return
	}
	*target = n
}

func (p *parser) float(key string, target *float64) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = errors.Wrapf(model.ErrConfiguration, "%s: %q is not a number", key, v)
		return
	}
	*target = f
}

// duration accepts Go duration strings ("750ms") or bare integers as milliseconds.
func (p *parser) duration(key string, target *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*target = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = errors.Wrapf(model.ErrConfiguration, "%s: %q is not a duration", key, v)
		return
	}
	*target = d
}
