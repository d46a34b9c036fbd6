// Package reel defines saved reel records and the ordered store that holds them.
package reel

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/reelnote/internal/errors"
)

// Record is one saved piece of shared content. Records are immutable once
// stored; the only mutation is whole-record deletion.
type Record struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	Category string `json:"category"`
	Notes    string `json:"notes"`

	// Timestamp is the instant the content was received.
	Timestamp time.Time `json:"timestamp"`

	// DateAdded and TimeAdded are display strings rendered once from
	// Timestamp when the record is created. They are never recomputed.
	DateAdded string `json:"dateAdded"`
	TimeAdded string `json:"timeAdded"`
}

// Display controls how DateAdded/TimeAdded are rendered.
type Display struct {
	DateLayout string
	TimeLayout string
	Location   *time.Location
}

// DefaultDisplay renders US-style dates in local time.
func DefaultDisplay() Display {
	return Display{
		DateLayout: "1/2/2006",
		TimeLayout: "3:04:05 PM",
		Location:   time.Local,
	}
}

// NewInput contains the fields needed to build a Record.
type NewInput struct {
	URL       string
	Caption   string
	Category  string
	Notes     string
	Timestamp time.Time
}

// New builds a Record with a fresh ID and pre-rendered display strings.
func New(input NewInput, display Display) (Record, error) {
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return Record{}, errors.NewInvalidRequest("category is required")
	}
	if input.Timestamp.IsZero() {
		return Record{}, errors.NewInvalidRequest("timestamp is required")
	}

	loc := display.Location
	if loc == nil {
		loc = time.Local
	}
	local := input.Timestamp.In(loc)

	return Record{
		ID:        NewID(),
		URL:       input.URL,
		Caption:   input.Caption,
		Category:  category,
		Notes:     strings.TrimSpace(input.Notes),
		Timestamp: input.Timestamp.UTC(),
		DateAdded: local.Format(display.DateLayout),
		TimeAdded: local.Format(display.TimeLayout),
	}, nil
}

// NewID returns a ULID. ulid.Make draws from a process-wide monotonic source,
// so IDs created in the same millisecond still sort and never collide.
func NewID() string {
	return ulid.Make().String()
}
