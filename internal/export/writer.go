package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avelis/prepvox/internal/interview"
)

// Writer produces the downloadable session artifacts: the transcript JSON
// document and the sealed video recording. Both follow the
// interview_<company>_<epoch-millis>.<ext> naming scheme.
type Writer struct {
	dir string
	now func() time.Time
}

func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = filepath.Join("data", "exports")
	}
	return &Writer{dir: dir, now: time.Now}
}

// Dir returns the export directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteTranscript serializes the session result to a pretty-printed JSON
// file and returns its path.
func (w *Writer) WriteTranscript(result interview.SessionResult) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session result: %w", err)
	}

	path := filepath.Join(w.dir, w.exportName(result.Company, "json"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write transcript %s: %w", path, err)
	}
	return path, nil
}

// SaveRecording moves the sealed recording into the export directory under
// the interview naming scheme and returns the new path. An empty
// recordingPath means no video was captured.
func (w *Writer) SaveRecording(recordingPath, company string) (string, error) {
	if recordingPath == "" {
		return "", nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(w.dir, w.exportName(company, "webm"))
	if err := os.Rename(recordingPath, path); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if copyErr := copyFile(recordingPath, path); copyErr != nil {
			return "", fmt.Errorf("save recording %s: %w", path, copyErr)
		}
		_ = os.Remove(recordingPath)
	}
	return path, nil
}

func (w *Writer) exportName(company, ext string) string {
	return fmt.Sprintf("interview_%s_%d.%s", sanitizeName(company), w.now().UnixMilli(), ext)
}

// sanitizeName keeps company names filesystem-safe without mangling the
// common case.
func sanitizeName(company string) string {
	company = strings.TrimSpace(company)
	if company == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_", ":", "-", "..", "-")
	return replacer.Replace(company)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}
