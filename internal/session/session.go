package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/skypro1111/denoise-client/internal/audio"
	"github.com/skypro1111/denoise-client/internal/metrics"
	"github.com/skypro1111/denoise-client/internal/playback"
	"github.com/skypro1111/denoise-client/internal/processing"
)

// NoSelectionMessage is recorded when processing is requested without a file
const NoSelectionMessage = "Please select an audio file first"

const storeFailedMessage = "Processed audio could not be stored"

var (
	// ErrBusy is returned by StartProcessing while a submission for the
	// current selection is in flight
	ErrBusy = errors.New("processing already in progress")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// Status is the session state
type Status string

const (
	StatusIdle         Status = "idle"
	StatusFileSelected Status = "file_selected"
	StatusProcessing   Status = "processing"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
)

// OutcomeKind tags the active Outcome
type OutcomeKind string

const (
	OutcomePending   OutcomeKind = "pending"
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of the latest submission. Payload is set only when
// Kind is OutcomeSucceeded, Message only when Kind is OutcomeFailed.
type Outcome struct {
	Kind    OutcomeKind
	Payload []byte
	Message string
}

// Submitter sends a file for processing
type Submitter interface {
	Submit(ctx context.Context, file *processing.InputFile) ([]byte, error)
}

// Handles creates and releases playback references
type Handles interface {
	Create(payload []byte, contentType string) (playback.Ref, error)
	Release(ref playback.Ref) error
}

// Config contains session configuration
type Config struct {
	// SubmitTimeout bounds each submission; zero means no bound
	SubmitTimeout time.Duration
}

// Snapshot is the state exposed to the presentation layer
type Snapshot struct {
	Status             Status       `json:"status"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	OriginalRef        playback.Ref `json:"original_ref,omitempty"`
	ProcessedRef       playback.Ref `json:"processed_ref,omitempty"`
	CanStartProcessing bool         `json:"can_start_processing"`
	FileName           string       `json:"file_name,omitempty"`
	ContentType        string       `json:"content_type,omitempty"`
	FileSize           int          `json:"file_size,omitempty"`
	DownloadName       string       `json:"download_name,omitempty"`
	Outcome            OutcomeKind  `json:"outcome,omitempty"`
}

// Session owns the selected file, its playback handles and the outcome of the
// latest submission. Methods are safe for concurrent use.
type Session struct {
	submitter Submitter
	handles   Handles
	logger    *slog.Logger
	metrics   *metrics.Metrics
	config    Config

	status       Status
	file         *processing.InputFile
	outcome      *Outcome
	errorMessage string
	originalRef  playback.Ref
	processedRef playback.Ref

	// generation changes on every selection and submission; results carrying
	// an older value are discarded
	generation uint64

	subscribers map[int]chan Snapshot
	nextSubID   int
	closed      bool

	mu sync.Mutex
}

// New creates an idle session
func New(submitter Submitter, handles Handles, logger *slog.Logger, m *metrics.Metrics, config Config) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		submitter:   submitter,
		handles:     handles,
		logger:      logger,
		metrics:     m,
		config:      config,
		status:      StatusIdle,
		subscribers: make(map[int]chan Snapshot),
	}
}

// SelectFile makes file the current selection from any state. Processed output
// and errors from earlier selections are dropped.
func (s *Session) SelectFile(file *processing.InputFile) error {
	if file == nil || len(file.Data) == 0 {
		return &processing.InvalidInputError{Reason: "No audio file provided"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	ref, err := s.handles.Create(file.Data, file.ContentType)
	if err != nil {
		return fmt.Errorf("failed to create original handle: %w", err)
	}

	s.replaceHandle(&s.originalRef, ref)
	s.replaceHandle(&s.processedRef, "")

	s.file = file
	s.outcome = nil
	s.errorMessage = ""
	s.generation++
	s.setStatus(StatusFileSelected)

	attrs := []any{
		slog.String("file_name", file.Name),
		slog.String("content_type", file.ContentType),
		slog.String("size", humanize.IBytes(uint64(file.Size()))),
		slog.String("original_ref", ref.String()),
	}
	if duration, err := audio.GetWAVDuration(file.Data); err == nil {
		attrs = append(attrs, slog.Float64("duration_seconds", duration))
	}
	s.logger.Info("File selected", attrs...)

	s.notify()
	return nil
}

// StartProcessing submits the current selection. The returned channel is
// closed once the result has been applied or discarded. Without a selection
// the message is recorded and an InvalidInputError returned; no request is
// made.
func (s *Session) StartProcessing(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if s.file == nil {
		s.errorMessage = NoSelectionMessage
		s.notify()
		return nil, &processing.InvalidInputError{Reason: NoSelectionMessage}
	}

	if s.status == StatusProcessing {
		return nil, ErrBusy
	}

	s.generation++
	generation := s.generation
	file := s.file

	s.errorMessage = ""
	s.outcome = &Outcome{Kind: OutcomePending}
	s.setStatus(StatusProcessing)
	s.notify()

	s.logger.Info("Processing started",
		slog.String("file_name", file.Name),
		slog.Uint64("generation", generation),
	)

	// The request is never cancelled, only its effect suppressed
	submitCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		callCtx := submitCtx
		if s.config.SubmitTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(submitCtx, s.config.SubmitTimeout)
			defer cancel()
		}

		startTime := time.Now()
		payload, err := s.submitter.Submit(callCtx, file)
		s.apply(generation, payload, err, time.Since(startTime))
	}()

	return done, nil
}

// apply installs a submission result if it is still current
func (s *Session) apply(generation uint64, payload []byte, err error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || generation != s.generation {
		s.metrics.RecordStaleResult()
		s.logger.Debug("Discarding stale processing result",
			slog.Uint64("generation", generation),
			slog.Uint64("current_generation", s.generation),
			slog.Bool("closed", s.closed),
		)
		return
	}

	if err != nil {
		s.fail(processing.Message(err), err, elapsed)
		return
	}

	ref, createErr := s.handles.Create(payload, audio.DetectContentType(payload, ""))
	if createErr != nil {
		s.fail(storeFailedMessage, createErr, elapsed)
		return
	}

	s.replaceHandle(&s.processedRef, ref)
	s.outcome = &Outcome{Kind: OutcomeSucceeded, Payload: payload}
	s.setStatus(StatusSucceeded)

	s.logger.Info("Processing succeeded",
		slog.String("file_name", s.file.Name),
		slog.String("processed_size", humanize.IBytes(uint64(len(payload)))),
		slog.String("processed_ref", ref.String()),
		slog.Duration("elapsed", elapsed),
	)

	s.notify()
}

func (s *Session) fail(message string, cause error, elapsed time.Duration) {
	s.errorMessage = message
	s.outcome = &Outcome{Kind: OutcomeFailed, Message: message}
	s.setStatus(StatusFailed)

	s.logger.Warn("Processing failed",
		slog.String("file_name", s.file.Name),
		slog.String("message", message),
		slog.String("error", cause.Error()),
		slog.Duration("elapsed", elapsed),
	)

	s.notify()
}

// Snapshot returns the current observable state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Outcome returns the active outcome, if any submission has been made for the
// current selection
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// File returns the current selection
func (s *Session) File() *processing.InputFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only miss intermediate snapshots. The returned func
// unsubscribes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.snapshot()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close releases both playback handles and ends all subscriptions. Results
// arriving afterwards are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.generation++

	var result *multierror.Error
	for _, ref := range []playback.Ref{s.originalRef, s.processedRef} {
		if ref == "" {
			continue
		}
		if err := s.handles.Release(ref); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.originalRef = ""
	s.processedRef = ""

	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}

	s.logger.Info("Session closed")
	return result.ErrorOrNil()
}

// replaceHandle installs next in slot and releases whatever it held before
func (s *Session) replaceHandle(slot *playback.Ref, next playback.Ref) {
	prev := *slot
	*slot = next

	if prev == "" {
		return
	}
	if err := s.handles.Release(prev); err != nil {
		s.logger.Warn("Failed to release playback handle",
			slog.String("ref", prev.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) setStatus(status Status) {
	s.status = status
	s.metrics.RecordTransition(string(status))
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Status:             s.status,
		ErrorMessage:       s.errorMessage,
		OriginalRef:        s.originalRef,
		ProcessedRef:       s.processedRef,
		CanStartProcessing: s.file != nil && s.status != StatusProcessing && !s.closed,
	}

	if s.file != nil {
		snap.FileName = s.file.Name
		snap.ContentType = s.file.ContentType
		snap.FileSize = s.file.Size()
	}

	if s.processedRef != "" && s.file != nil {
		snap.DownloadName = "processed_" + s.file.Name
	}

	if s.outcome != nil {
		snap.Outcome = s.outcome.Kind
	}

	return snap
}

// notify pushes the current snapshot to subscribers, replacing any unread one
func (s *Session) notify() {
	if len(s.subscribers) == 0 {
		return
	}

	snap := s.snapshot()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
