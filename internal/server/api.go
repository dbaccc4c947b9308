package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/avelis/prepvox/internal/interview"
	"github.com/avelis/prepvox/internal/question"
)

var exportNamePattern = regexp.MustCompile(`^interview_[^/\\]+\.(json|webm)$`)

// maxChunkBytes bounds a single uploaded media/audio chunk.
const maxChunkBytes = 8 << 20

type QuestionStore interface {
	Create(company, text string) (question.Question, error)
	Delete(id string) error
	ByCompany(company string) ([]question.Question, error)
	All(filter string) ([]question.Question, error)
	Companies() ([]question.CompanyCount, error)
}

type SessionController interface {
	StartSession(company string, pool []question.Question) (interview.Session, error)
	PresentCurrentQuestion() error
	StartListening() error
	StopListening()
	SubmitAnswer(text string) error
	Advance() error
	FinishEarly() error
	Finalize() (interview.SessionResult, error)
	RecordingPath() string
	RespondFallback(accept bool) error
	Snapshot() (interview.Session, bool)
}

// AudioIngest receives candidate microphone audio for recognition.
type AudioIngest interface {
	Write(p []byte) (int, error)
}

// Playback receives utterance playback reports from the browser.
type Playback interface {
	PlaybackEnded(id string)
}

// MediaIngest receives camera recording chunks from the browser.
type MediaIngest interface {
	Ingest(chunk []byte) error
}

// Exporter writes the downloadable session artifacts.
type Exporter interface {
	WriteTranscript(result interview.SessionResult) (string, error)
	SaveRecording(recordingPath, company string) (string, error)
	Dir() string
}

// Adapters groups the collaborators the API routes drive.
type Adapters struct {
	Controller SessionController
	Questions  QuestionStore
	Audio      AudioIngest
	Playback   Playback
	Media      MediaIngest
	Exporter   Exporter
	VoiceDir   string
}

func registerAPIRoutes(mux *http.ServeMux, a Adapters) {
	registerQuestionRoutes(mux, a.Questions)
	registerInterviewRoutes(mux, a)
	registerStreamRoutes(mux, a)
}

func registerQuestionRoutes(mux *http.ServeMux, store QuestionStore) {
	mux.HandleFunc("GET /api/companies", func(w http.ResponseWriter, r *http.Request) {
		counts, err := store.Companies()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list companies: %v", err))
			return
		}

		type companyView struct {
			Company  string `json:"company"`
			Count    int    `json:"count"`
			Eligible bool   `json:"eligible"`
		}
		views := make([]companyView, 0, len(counts))
		for _, c := range counts {
			views = append(views, companyView{
				Company:  c.Company,
				Count:    c.Count,
				Eligible: c.Count >= interview.QuestionsPerSession,
			})
		}
		writeJSON(w, http.StatusOK, views)
	})

	mux.HandleFunc("GET /api/questions", func(w http.ResponseWriter, r *http.Request) {
		questions, err := store.All(r.URL.Query().Get("company"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list questions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, questions)
	})

	mux.HandleFunc("POST /api/questions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Company string `json:"company"`
			Text    string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		q, err := store.Create(req.Company, req.Text)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("create question: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, q)
	})

	mux.HandleFunc("DELETE /api/questions/{id}", func(w http.ResponseWriter, r *http.Request) {
		err := store.Delete(r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("delete question: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func registerInterviewRoutes(mux *http.ServeMux, a Adapters) {
	mux.HandleFunc("POST /api/interviews", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Company string `json:"company"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		company := strings.TrimSpace(req.Company)
		if company == "" {
			writeJSONError(w, http.StatusBadRequest, "company is required")
			return
		}

		pool, err := a.Questions.ByCompany(company)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load questions: %v", err))
			return
		}

		session, err := a.Controller.StartSession(company, pool)
		if err != nil {
			switch {
			case errors.Is(err, interview.ErrInsufficientQuestions):
				writeJSONError(w, http.StatusConflict, err.Error())
			case errors.Is(err, interview.ErrMediaUnavailable):
				writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			default:
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("start interview: %v", err))
			}
			return
		}
		writeJSON(w, http.StatusCreated, session)
	})

	mux.HandleFunc("GET /api/interviews/current", func(w http.ResponseWriter, r *http.Request) {
		session, ok := a.Controller.Snapshot()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no active interview")
			return
		}
		writeJSON(w, http.StatusOK, session)
	})

	mux.HandleFunc("POST /api/interviews/current/repeat", func(w http.ResponseWriter, r *http.Request) {
		writeControllerResult(w, a.Controller.PresentCurrentQuestion())
	})

	mux.HandleFunc("POST /api/interviews/current/listen", func(w http.ResponseWriter, r *http.Request) {
		err := a.Controller.StartListening()
		if err != nil {
			var sie *interview.SpeechInputError
			if errors.As(err, &sie) {
				writeJSONError(w, http.StatusBadGateway, sie.Error())
				return
			}
			writeControllerResult(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/interviews/current/listen/stop", func(w http.ResponseWriter, r *http.Request) {
		a.Controller.StopListening()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/interviews/current/answer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		err := a.Controller.SubmitAnswer(req.Text)
		if errors.Is(err, interview.ErrEmptyAnswer) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeControllerResult(w, err)
	})

	mux.HandleFunc("POST /api/interviews/current/next", func(w http.ResponseWriter, r *http.Request) {
		writeControllerResult(w, a.Controller.Advance())
	})

	mux.HandleFunc("POST /api/interviews/current/finish", func(w http.ResponseWriter, r *http.Request) {
		err := a.Controller.FinishEarly()
		if errors.Is(err, interview.ErrNoAnswersRecorded) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeControllerResult(w, err)
	})

	mux.HandleFunc("POST /api/interviews/current/fallback", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Accept bool `json:"accept"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		writeControllerResult(w, a.Controller.RespondFallback(req.Accept))
	})

	// Finalize is idempotent at the controller, so repeated calls must hand
	// back the artifacts minted on the first one instead of exporting again.
	var finalizeMu sync.Mutex
	var finalizedGeneration string
	var finalizedPayload map[string]any

	mux.HandleFunc("POST /api/interviews/current/finalize", func(w http.ResponseWriter, r *http.Request) {
		result, err := a.Controller.Finalize()
		if err != nil {
			writeControllerResult(w, err)
			return
		}
		session, _ := a.Controller.Snapshot()

		finalizeMu.Lock()
		defer finalizeMu.Unlock()

		if finalizedPayload != nil && finalizedGeneration == session.Generation {
			writeJSON(w, http.StatusOK, finalizedPayload)
			return
		}

		transcriptPath, err := a.Exporter.WriteTranscript(result)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("export transcript: %v", err))
			return
		}

		videoPath, err := a.Exporter.SaveRecording(a.Controller.RecordingPath(), result.Company)
		if err != nil {
			// Transcript export already succeeded; report the result anyway.
			videoPath = ""
		}

		payload := map[string]any{
			"result":     result,
			"transcript": "/api/exports/" + filepath.Base(transcriptPath),
		}
		if videoPath != "" {
			payload["video"] = "/api/exports/" + filepath.Base(videoPath)
		}

		finalizedGeneration = session.Generation
		finalizedPayload = payload
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("GET /api/exports/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !exportNamePattern.MatchString(name) {
			writeJSONError(w, http.StatusForbidden, "invalid export name")
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+name)
		http.ServeFile(w, r, filepath.Join(a.Exporter.Dir(), name))
	})
}

func registerStreamRoutes(mux *http.ServeMux, a Adapters) {
	mux.HandleFunc("POST /api/media/chunk", func(w http.ResponseWriter, r *http.Request) {
		chunk, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "read chunk")
			return
		}
		if a.Media != nil {
			if err := a.Media.Ingest(chunk); err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("store chunk: %v", err))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/speech/audio", func(w http.ResponseWriter, r *http.Request) {
		chunk, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "read chunk")
			return
		}
		if a.Audio != nil {
			if _, err := a.Audio.Write(chunk); err != nil {
				writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("forward audio: %v", err))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/speech/played", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UtteranceID string `json:"utterance_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if a.Playback != nil {
			a.Playback.PlaybackEnded(req.UtteranceID)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/voice/{file}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("file")
		if name != filepath.Base(name) || !strings.HasSuffix(name, ".mp3") {
			writeJSONError(w, http.StatusForbidden, "invalid voice file")
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeFile(w, r, filepath.Join(a.VoiceDir, name))
	})
}

// writeControllerResult maps controller sentinel errors onto HTTP statuses.
// ErrInvalidState is a caller bug, not candidate input, so it surfaces as a
// conflict rather than a friendly message.
func writeControllerResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, interview.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
