package model

import "github.com/pkg/errors"

// Error kinds shared by client and server. Concrete failures wrap one of these.
var (
	// ErrConnection is a dropped or unusable WebSocket connection.
	ErrConnection = errors.New("connection error")
	// ErrTranscription is a failed or timed out speech-to-text call.
	ErrTranscription = errors.New("transcription error")
	// ErrTranslation is a failed or timed out translation call.
	ErrTranslation = errors.New("translation error")
	// ErrConfiguration is a missing credential or invalid setting.
	ErrConfiguration = errors.New("configuration error")
)

// Kind returns the error kind err wraps, or nil.
func Kind(err error) error {
	for _, kind := range []error{ErrConnection, ErrTranscription, ErrTranslation, ErrConfiguration} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Error attaches an error kind to a concrete failure while keeping the
// failure itself reachable through errors.Is and errors.As.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Wrap annotates err with a message and marks it as kind. It returns nil
// when err is nil.
func Wrap(kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}
