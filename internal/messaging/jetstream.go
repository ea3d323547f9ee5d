package messaging

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	UpdatesStream = "UPDATES"
	ScoreStream   = "SCORE"

	DefaultUpdatesSubject = "updates"
	DefaultScoreSubject   = "score"
)

// Subjects names the two queues the pipeline publishes to.
type Subjects struct {
	Updates string
	Score   string
}

func (s Subjects) withDefaults() Subjects {
	if s.Updates == "" {
		s.Updates = DefaultUpdatesSubject
	}
	if s.Score == "" {
		s.Score = DefaultScoreSubject
	}
	return s
}

// EnsureStreams creates the UPDATES and SCORE streams when they are missing.
func EnsureStreams(js nats.JetStreamContext, subjects Subjects) error {
	subjects = subjects.withDefaults()
	if err := ensureStream(js, UpdatesStream, subjects.Updates); err != nil {
		return err
	}
	return ensureStream(js, ScoreStream, subjects.Score)
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}); err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}
