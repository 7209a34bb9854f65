// Package publisher announces stored artifacts on a message bus.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// Notification is the JSON payload published for every stored artifact.
type Notification struct {
	RunID      string    `json:"run_id,omitempty"`
	Term       string    `json:"term"`
	ID         string    `json:"id"`
	SourceURL  string    `json:"source_url"`
	Location   string    `json:"location"`
	Bytes      int       `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	StoredAt   time.Time `json:"stored_at"`
}

// Recorder publishes a Notification for each successful outcome. It
// implements harvest.Recorder; other outcome kinds are ignored.
type Recorder struct {
	pub   harvest.Publisher
	topic string
	runID string
	now   func() time.Time
}

// NewRecorder returns a Recorder publishing to topic through pub.
func NewRecorder(pub harvest.Publisher, topic, runID string) *Recorder {
	return &Recorder{
		pub:   pub,
		topic: topic,
		runID: runID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record publishes o when it is a success.
func (r *Recorder) Record(ctx context.Context, o harvest.Outcome) error {
	if o.Kind != harvest.OutcomeSuccess {
		return nil
	}
	msg := Notification{
		RunID:      r.runID,
		Term:       o.Term,
		ID:         o.ID,
		SourceURL:  o.URL,
		Location:   o.Location,
		Bytes:      o.Bytes,
		DurationMS: o.Duration.Milliseconds(),
		StoredAt:   r.now(),
	}
	if _, err := r.pub.Publish(ctx, r.topic, msg); err != nil {
		return fmt.Errorf("publish notification for %s: %w", o.ID, err)
	}
	return nil
}
