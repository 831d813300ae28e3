package client

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sulaiman-shamasna/instant-translator/model"
)

const clockLayout = "15:04:05"

// Renderer prints translation results for a human watching the terminal.
type Renderer struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location
}

// NewRenderer writes to w using loc (time.Local when nil) for timestamps.
func NewRenderer(w io.Writer, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{w: w, loc: loc}
}

// Render prints
//
//	[15:04:05] original text
//	  → (French) translated text
func (r *Renderer) Render(res model.TranslationResult) error {
	clock := "--:--:--"
	if ts, err := model.ParseTimestamp(res.Timestamp); err == nil {
		clock = ts.In(r.loc).Format(clockLayout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.w, "[%s] %s\n  → (%s) %s\n", clock, res.OriginalText, res.TargetLanguage, res.TranslatedText)
	return err
}
