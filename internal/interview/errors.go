package interview

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientQuestions is returned by StartSession when the chosen
	// company has fewer banked questions than a session needs.
	ErrInsufficientQuestions = errors.New("not enough questions for an interview")

	// ErrMediaUnavailable is returned by StartSession when the camera/mic
	// capture could not be acquired.
	ErrMediaUnavailable = errors.New("media capture unavailable")

	// ErrInvalidState is returned when an operation is invoked in a phase
	// that does not permit it. It indicates a caller bug, not user input.
	ErrInvalidState = errors.New("operation not valid in current phase")

	// ErrNoAnswersRecorded is returned by FinishEarly when no answer has
	// been captured yet.
	ErrNoAnswersRecorded = errors.New("no answers recorded")

	// ErrEmptyAnswer is returned by SubmitAnswer for blank text.
	ErrEmptyAnswer = errors.New("answer text is empty")
)

// ErrorKind classifies speech recognition failures.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindPermissionDenied ErrorKind = "permission-denied"
	KindNoSpeech         ErrorKind = "no-speech"
	KindAborted          ErrorKind = "aborted"
	KindOther            ErrorKind = "other"
)

// Recoverable reports whether a retry in place is enough, or whether the
// failure warrants offering the typed-answer fallback.
func (k ErrorKind) Recoverable() bool {
	return k == KindNoSpeech || k == KindAborted
}

// SpeechInputError wraps a recognition failure with its kind.
type SpeechInputError struct {
	Kind ErrorKind
	Err  error
}

func (e *SpeechInputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("speech input error: %s", e.Kind)
	}
	return fmt.Sprintf("speech input error (%s): %v", e.Kind, e.Err)
}

func (e *SpeechInputError) Unwrap() error {
	return e.Err
}
