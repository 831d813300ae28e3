package audio

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

// Segmenter cuts a session's PCM stream into utterances.
//
// With the silence policy the stream is analysed in fixed windows. Speech windows
// and the first silent window after speech are buffered; a second consecutive
// silent window closes the utterance. Utterances with less than MinSpeech of
// voiced audio are discarded as noise. MaxDuration always forces a cut.
//
// With the fixed policy every FixedDuration of audio is one utterance.
//
// A Segmenter belongs to one session and is not safe for concurrent use.
type Segmenter struct {
	policy           string
	sampleRate       int
	energyThreshold  float64
	silenceThreshold float64

	windowBytes    int
	maxBytes       int
	fixedBytes     int
	minSpeechBytes int

	now func() time.Time

	frame       []byte
	utterance   []byte
	speechBytes int
	speaking    bool
	position    int // stream bytes consumed before frame
	startByte   int
	startedAt   time.Time
}

// NewSegmenter validates cfg against sampleRate and returns a segmenter for one session.
func NewSegmenter(cfg config.SegmentConfig, sampleRate int) (*Segmenter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	s := &Segmenter{
		policy:           cfg.Policy,
		sampleRate:       sampleRate,
		energyThreshold:  cfg.EnergyThreshold,
		silenceThreshold: cfg.SilenceThreshold,
		windowBytes:      ByteCount(cfg.Window, sampleRate),
		maxBytes:         ByteCount(cfg.MaxDuration, sampleRate),
		fixedBytes:       ByteCount(cfg.FixedDuration, sampleRate),
		minSpeechBytes:   ByteCount(cfg.MinSpeech, sampleRate),
		now:              time.Now,
	}

	switch s.policy {
	case config.PolicySilence:
		if s.windowBytes <= 0 {
			return nil, fmt.Errorf("segment window %s is shorter than one sample", cfg.Window)
		}
		if s.maxBytes < s.windowBytes {
			return nil, fmt.Errorf("segment max duration %s is shorter than the window %s", cfg.MaxDuration, cfg.Window)
		}
	case config.PolicyFixed:
		if s.fixedBytes <= 0 {
			return nil, fmt.Errorf("fixed segment duration %s is shorter than one sample", cfg.FixedDuration)
		}
	default:
		return nil, fmt.Errorf("unknown segment policy %q", cfg.Policy)
	}
	return s, nil
}

// Write consumes one chunk and returns the utterances it completed, plus how
// many buffered utterances were discarded as too short.
func (s *Segmenter) Write(pcm []byte) (utterances []model.Utterance, discarded int) {
	if s.policy == config.PolicyFixed {
		return s.writeFixed(pcm), 0
	}

	for len(pcm) > 0 {
		n := s.windowBytes - len(s.frame)
		if n > len(pcm) {
			n = len(pcm)
		}
		s.frame = append(s.frame, pcm[:n]...)
		pcm = pcm[n:]
		if len(s.frame) < s.windowBytes {
			break
		}

		u, dropped := s.analyse(s.frame)
		s.position += len(s.frame)
		s.frame = s.frame[:0]
		if u != nil {
			utterances = append(utterances, *u)
		}
		if dropped {
			discarded++
		}
	}
	return utterances, discarded
}

func (s *Segmenter) writeFixed(pcm []byte) []model.Utterance {
	if len(s.utterance) == 0 && len(pcm) > 0 {
		s.begin(s.position)
	}
	s.utterance = append(s.utterance, pcm...)
	s.speechBytes += len(pcm)
	s.position += len(pcm)

	var out []model.Utterance
	for len(s.utterance) >= s.fixedBytes {
		rest := append([]byte(nil), s.utterance[s.fixedBytes:]...)
		s.utterance = s.utterance[:s.fixedBytes]
		out = append(out, s.build())
		s.reset()
		if len(rest) > 0 {
			s.begin(s.position - len(rest))
			s.utterance = rest
			s.speechBytes = len(rest)
		}
	}
	return out
}

func (s *Segmenter) analyse(frame []byte) (*model.Utterance, bool) {
	energy, amplitude := Levels(frame)
	voiced := energy >= s.energyThreshold && amplitude >= s.silenceThreshold

	var cut bool
	switch {
	case voiced:
		if len(s.utterance) == 0 {
			s.begin(s.position)
		}
		s.utterance = append(s.utterance, frame...)
		s.speechBytes += len(frame)
	case s.speaking && len(s.utterance) > 0:
		s.utterance = append(s.utterance, frame...)
	default:
		cut = len(s.utterance) > 0
	}
	s.speaking = voiced

	if !cut && len(s.utterance) < s.maxBytes {
		return nil, false
	}

	if s.speechBytes < s.minSpeechBytes {
		s.reset()
		return nil, true
	}
	u := s.build()
	s.reset()
	return &u, false
}

func (s *Segmenter) begin(startByte int) {
	s.startByte = startByte
	s.startedAt = s.now()
}

func (s *Segmenter) build() model.Utterance {
	pcm := make([]byte, len(s.utterance))
	copy(pcm, s.utterance)
	return model.Utterance{
		ID:         uuid.NewString(),
		PCM:        pcm,
		SampleRate: s.sampleRate,
		Offset:     Duration(s.startByte, s.sampleRate),
		Duration:   Duration(len(pcm), s.sampleRate),
		CapturedAt: s.startedAt,
	}
}

func (s *Segmenter) reset() {
	s.utterance = s.utterance[:0]
	s.speechBytes = 0
	s.startByte = 0
	s.startedAt = time.Time{}
}
