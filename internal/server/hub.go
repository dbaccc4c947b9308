package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/avelis/prepvox/internal/interview"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionStarted(company string, total int) {
	h.broadcastEvent(SessionStartedEvent{
		Event:          newEvent("session_started", time.Now().UTC()),
		Company:        company,
		TotalQuestions: total,
	})
}

func (h *Hub) BroadcastQuestionSpeaking(index, total int, text string) {
	h.broadcastEvent(QuestionSpeakingEvent{
		Event: newEvent("question_speaking", time.Now().UTC()),
		Index: index,
		Total: total,
		Text:  text,
	})
}

func (h *Hub) BroadcastListeningEnabled(index int) {
	h.broadcastEvent(ListeningEnabledEvent{
		Event: newEvent("listening_enabled", time.Now().UTC()),
		Index: index,
	})
}

func (h *Hub) BroadcastInterimTranscript(index int, text string) {
	h.broadcastEvent(InterimTranscriptEvent{
		Event: newEvent("interim_transcript", time.Now().UTC()),
		Index: index,
		Text:  text,
	})
}

func (h *Hub) BroadcastAnswerRecorded(index int, answer interview.Answer) {
	h.broadcastEvent(AnswerRecordedEvent{
		Event:    newEvent("answer_recorded", answer.Timestamp),
		Index:    index,
		Question: answer.Question,
		Answer:   answer.Answer,
		Recorded: answer.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Hub) BroadcastFallbackOffered(index int, kind interview.ErrorKind) {
	h.broadcastEvent(FallbackOfferedEvent{
		Event: newEvent("fallback_offered", time.Now().UTC()),
		Index: index,
		Kind:  string(kind),
	})
}

func (h *Hub) BroadcastSessionCompleted(result interview.SessionResult) {
	h.broadcastEvent(SessionCompletedEvent{
		Event:  newEvent("session_completed", time.Now().UTC()),
		Result: result,
	})
}

func (h *Hub) BroadcastStatus(message string) {
	h.broadcastEvent(StatusEvent{
		Event:   newEvent("status", time.Now().UTC()),
		Message: message,
	})
}

// AnnounceUtterance implements speech.Announcer so the browser can play the
// synthesized question audio.
func (h *Hub) AnnounceUtterance(id, url, text string) {
	h.broadcastEvent(QuestionAudioEvent{
		Event:       newEvent("question_audio", time.Now().UTC()),
		UtteranceID: id,
		URL:         url,
		Text:        text,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
