package sinks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/progress"
)

// DomainSummary collapses the task events of one domain within a batch.
type DomainSummary struct {
	SessionID uuid.UUID `json:"session_id"`
	Domain    string    `json:"domain"`
	Tasks     int64     `json:"tasks"`
	Succeeded int64     `json:"succeeded"`
	Retried   int64     `json:"retried"`
	Skipped   int64     `json:"skipped"`
	Failed    int64     `json:"failed"`
	Bytes     int64     `json:"bytes"`
	At        time.Time `json:"at"`
}

// Attributes implements the attribute hook publishers copy onto messages.
func (d DomainSummary) Attributes() map[string]string {
	return map[string]string{"kind": "domain_summary", "domain": d.Domain}
}

// SessionMessage announces a session start or end.
type SessionMessage struct {
	SessionID uuid.UUID      `json:"session_id"`
	Stage     progress.Stage `json:"stage"`
	At        time.Time      `json:"at"`
	Runtime   time.Duration  `json:"runtime,omitempty"`
	Note      string         `json:"note,omitempty"`
}

// Attributes implements the attribute hook publishers copy onto messages.
func (m SessionMessage) Attributes() map[string]string {
	return map[string]string{"kind": "session", "stage": string(m.Stage)}
}

// PublishSink sends session events and per-domain task summaries to a
// topic. Collapsing by domain keeps one message per domain per batch.
type PublishSink struct {
	pub   crawler.Publisher
	topic string
}

// NewPublishSink builds a PublishSink for topic.
func NewPublishSink(pub crawler.Publisher, topic string) *PublishSink {
	return &PublishSink{pub: pub, topic: topic}
}

// Consume implements progress.Sink. Every message is attempted; the errors
// are joined.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var (
		errs      []error
		summaries = make(map[string]*DomainSummary)
	)
	for _, evt := range batch {
		if evt.Stage != progress.StageTaskDone {
			errs = append(errs, s.send(ctx, SessionMessage{
				SessionID: evt.SessionID,
				Stage:     evt.Stage,
				At:        evt.TS,
				Runtime:   evt.Dur,
				Note:      evt.Note,
			}))
			continue
		}
		sum := summaries[evt.Domain]
		if sum == nil {
			sum = &DomainSummary{SessionID: evt.SessionID, Domain: evt.Domain}
			summaries[evt.Domain] = sum
		}
		sum.Tasks++
		switch evt.Outcome {
		case crawler.OutcomeSuccess.String():
			sum.Succeeded++
		case crawler.OutcomeTransient.String():
			sum.Retried++
		case crawler.OutcomeSkipped.String():
			sum.Skipped++
		default:
			sum.Failed++
		}
		sum.Bytes += evt.Bytes
		if evt.TS.After(sum.At) {
			sum.At = evt.TS
		}
	}

	domains := make([]string, 0, len(summaries))
	for d := range summaries {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		errs = append(errs, s.send(ctx, *summaries[d]))
	}
	return errors.Join(errs...)
}

func (s *PublishSink) send(ctx context.Context, payload any) error {
	if _, err := s.pub.Publish(ctx, s.topic, payload); err != nil {
		return fmt.Errorf("publish progress to %s: %w", s.topic, err)
	}
	return nil
}

// Close implements progress.Sink.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
