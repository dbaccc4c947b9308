package interview

import (
	"strings"
	"sync"
)

// recognitionRelay binds one listening attempt to the question it was
// started for. Final results are accumulated until the recognizer ends, then
// delivered to the controller as a single transcript; events arriving after
// the question has moved on carry a stale generation/index pair and are
// dropped by the controller's guards.
type recognitionRelay struct {
	c          *Controller
	generation string
	index      int

	mu     sync.Mutex
	finals []string
}

func (r *recognitionRelay) Interim(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	display := strings.TrimSpace(strings.Join(append(append([]string(nil), r.finals...), text), " "))
	r.mu.Unlock()

	r.c.recognitionInterim(r.generation, r.index, display)
}

func (r *recognitionRelay) Final(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	r.finals = append(r.finals, text)
	display := strings.Join(r.finals, " ")
	r.mu.Unlock()

	r.c.recognitionInterim(r.generation, r.index, display)
}

func (r *recognitionRelay) Ended() {
	r.mu.Lock()
	transcript := strings.Join(r.finals, " ")
	r.finals = nil
	r.mu.Unlock()

	r.c.recognitionEnded(r.generation, r.index, transcript)
}

func (r *recognitionRelay) Failed(kind ErrorKind, err error) {
	r.c.recognitionFailed(r.generation, r.index, kind, err)
}
