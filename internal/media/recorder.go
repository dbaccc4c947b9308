package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/avelis/prepvox/internal/interview"
)

// ErrCaptureHeld is returned by Acquire while another session still owns the
// capture handle.
var ErrCaptureHeld = errors.New("media capture already held")

// Recorder stores the candidate's camera/microphone recording. The browser's
// MediaRecorder uploads webm chunks which are appended to a part file;
// stopping the recording seals the file into its final container path.
// Exactly one handle is active at a time.
type Recorder struct {
	dir string

	mu        sync.Mutex
	handle    interview.MediaHandle
	file      *os.File
	partPath  string
	finalPath string
}

func NewRecorder(dir string) *Recorder {
	if dir == "" {
		dir = filepath.Join("data", "media")
	}
	return &Recorder{dir: dir}
}

// Acquire claims the capture handle for one session.
func (r *Recorder) Acquire() (interview.MediaHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != "" {
		return "", ErrCaptureHeld
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	r.handle = interview.MediaHandle(uuid.NewString())
	r.finalPath = ""
	return r.handle, nil
}

// StartRecording opens the part file chunks will be appended to.
func (r *Recorder) StartRecording(h interview.MediaHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == "" || h != r.handle {
		return errors.New("unknown media handle")
	}
	if r.file != nil {
		return nil
	}

	partPath := filepath.Join(r.dir, string(h)+".webm.part")
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open recording file: %w", err)
	}

	r.file = f
	r.partPath = partPath
	return nil
}

// Ingest appends one uploaded chunk to the active recording. Chunks arriving
// while no recording is active are discarded.
func (r *Recorder) Ingest(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil || len(chunk) == 0 {
		return nil
	}
	if _, err := r.file.Write(chunk); err != nil {
		return fmt.Errorf("write recording chunk: %w", err)
	}
	return nil
}

// StopRecording seals the part file and returns the stored recording path.
// Stopping when nothing is recording is a no-op returning the last path.
func (r *Recorder) StopRecording() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return r.finalPath, nil
	}

	file := r.file
	partPath := r.partPath
	r.file = nil
	r.partPath = ""

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close recording file: %w", err)
	}

	finalPath := partPath[:len(partPath)-len(".part")]
	if err := os.Rename(partPath, finalPath); err != nil {
		return "", fmt.Errorf("seal recording file: %w", err)
	}

	r.finalPath = finalPath
	return finalPath, nil
}

// Release frees the capture handle for the next session.
func (r *Recorder) Release(h interview.MediaHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h != r.handle {
		return
	}
	if r.file != nil {
		_ = r.file.Close()
		_ = os.Remove(r.partPath)
		r.file = nil
		r.partPath = ""
	}
	r.handle = ""
}
