package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event type constants
const (
	TypePredictionMade     = "prediction.made"
	TypeEncodingSkew       = "encoding.skew"
	TypeModelPublished     = "model.published"
	TypeModelReloadRequest = "model.reload_requested"
)

const schemaVersion = "1.0"

// Base carries the fields shared by every event
type Base struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBase creates a new base event with defaults
func NewBase(eventType, source string) Base {
	return Base{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   schemaVersion,
	}
}

// SanitizeUTF8 drops invalid UTF-8 sequences. Raw client labels pass
// through it before they are published.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
