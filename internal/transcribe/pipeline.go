// Package transcribe stages uploaded audio to a temporary file, hands it to a
// speech-to-text backend and removes the file before returning.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/metrics"
)

const (
	DefaultTimeout = 60 * time.Second
	defaultExt     = ".webm"
	filePrefix     = "crmpilot-audio-"
)

var audioExtensions = map[string]bool{
	".flac": true,
	".m4a":  true,
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".ogg":  true,
	".wav":  true,
	".webm": true,
}

// ErrNoAudio is wrapped by the error returned for an empty upload.
var ErrNoAudio = errors.New("no audio supplied")

// Backend transcribes the audio file at path.
type Backend interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// FormatChecker is implemented by backends that only handle some of the
// accepted audio types.
type FormatChecker interface {
	Accepts(ext string) bool
}

// Error is a transcription failure. Its message is safe to show to callers.
type Error struct {
	kind apperr.Kind
	msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.msg + ": " + e.Err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) Kind() apperr.Kind     { return e.kind }
func (e *Error) PublicMessage() string { return e.msg }

// Config sets where audio is staged and how long a backend call may take.
type Config struct {
	TempDir string
	Timeout time.Duration
}

// Pipeline stages uploaded audio on disk and hands it to a Backend.
type Pipeline struct {
	backend Backend
	dir     string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// New creates a Pipeline over b. An empty TempDir stages in os.TempDir.
func New(b Backend, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend: b,
		dir:     cfg.TempDir,
		timeout: cfg.Timeout,
		logger:  slog.Default(),
	}
	if p.dir == "" {
		p.dir = os.TempDir()
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Transcribe stages audio, runs the backend once and returns the transcript.
// The staged file is removed on every path out of this function. filename
// only contributes its extension.
func (p *Pipeline) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	start := time.Now()

	ext := Extension(filename)
	if fc, ok := p.backend.(FormatChecker); ok && !fc.Accepts(ext) {
		p.metrics.ObserveTranscription("invalid", 0)
		return "", &Error{kind: apperr.KindInvalidRequest, msg: "unsupported audio format " + ext}
	}

	path, size, err := p.stage(audio, ext)
	if path != "" {
		p.metrics.FileStaged()
		defer p.release(path)
	}
	if err != nil {
		p.metrics.ObserveTranscription("failed", 0)
		return "", &Error{kind: apperr.KindInternal, msg: "staging audio failed", Err: err}
	}
	if size == 0 {
		p.metrics.ObserveTranscription("invalid", 0)
		return "", &Error{kind: apperr.KindInvalidRequest, msg: "audio is required", Err: ErrNoAudio}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.backend.Transcribe(ctx, path)
	if err != nil {
		p.logger.Error("transcription failed", "error", err, "bytes", size, "elapsed", time.Since(start))
		p.metrics.ObserveTranscription("failed", time.Since(start))
		return "", &Error{kind: apperr.KindInternal, msg: "transcription failed", Err: err}
	}

	p.metrics.ObserveTranscription("ok", time.Since(start))
	return strings.TrimSpace(text), nil
}

// stage copies audio into a new file with a per-call unique name. It returns
// the path whenever a file was created, even alongside an error.
func (p *Pipeline) stage(audio io.Reader, ext string) (string, int64, error) {
	path := filepath.Join(p.dir, StagedName(ext))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("creating staged file: %w", err)
	}

	n, err := io.Copy(f, audio)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, n, fmt.Errorf("writing staged file: %w", err)
	}
	return path, n, nil
}

func (p *Pipeline) release(path string) {
	p.metrics.FileReleased()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Error("removing staged audio", "path", path, "error", err)
	}
}

// StagedName returns crmpilot-audio-<unix-nanos>-<uuid><ext>.
func StagedName(ext string) string {
	return filePrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + uuid.NewString() + ext
}

// Extension returns the lower-cased extension of filename when it is a known
// audio type, and .webm otherwise.
func Extension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if audioExtensions[ext] {
		return ext
	}
	return defaultExt
}
