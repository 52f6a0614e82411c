package noop

import (
	"context"
	"sync"

	"sleepdx/pkg/errors"
)

// Tracker is a no-op implementation of the error tracker
// Used when error tracking is disabled
type Tracker struct{}

// New creates a new no-op tracker
func New() *Tracker {
	return &Tracker{}
}

// CaptureError does nothing
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	return nil
}

// CaptureMessage does nothing
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

// AddBreadcrumb does nothing
func (t *Tracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
}

// Flush does nothing
func (t *Tracker) Flush(ctx context.Context) error {
	return nil
}

// Event is one captured error or message
type Event struct {
	Message string
	Level   errors.Level
	Tags    map[string]string
	Err     error
}

// Recorder keeps every event in memory, for tests
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// CaptureError records the error
func (r *Recorder) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Message: err.Error(), Level: errors.LevelError, Tags: tags, Err: err})
	return nil
}

// CaptureMessage records the message
func (r *Recorder) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Message: message, Level: level, Tags: tags})
	return nil
}

// AddBreadcrumb does nothing
func (r *Recorder) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
}

// Flush does nothing
func (r *Recorder) Flush(ctx context.Context) error {
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
