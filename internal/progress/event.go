package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event records.
type Stage string

// Event stages.
const (
	StageSessionStart Stage = "SESSION_START"
	StageSessionDone  Stage = "SESSION_DONE"
	StageSessionError Stage = "SESSION_ERROR"
	StageTaskDone     Stage = "TASK_DONE"
)

// StatusClass groups fetch status codes.
type StatusClass string

// Status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusNone  StatusClass = "none"
	StatusOther StatusClass = "other"
)

// Event is one unit of crawl activity.
type Event struct {
	// SessionID ties events to one crawl or serve run. The Hub fills it in.
	SessionID uuid.UUID `json:"session_id"`
	TS        time.Time `json:"ts"`
	Stage     Stage     `json:"stage"`

	// Task fields, set on StageTaskDone.
	TaskID      int64       `json:"task_id,omitempty"`
	Domain      string      `json:"domain,omitempty"`
	URL         string      `json:"url,omitempty"`
	Outcome     string      `json:"outcome,omitempty"`
	StatusClass StatusClass `json:"status_class,omitempty"`
	Bytes       int64       `json:"bytes,omitempty"`

	// Dur is the task wall time, or the session runtime on session end.
	Dur  time.Duration `json:"dur,omitempty"`
	Note string        `json:"note,omitempty"`
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.SessionID == uuid.Nil {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone, StageSessionError:
	case StageTaskDone:
		if e.Domain == "" {
			return errors.New("task event requires domain")
		}
		if e.Outcome == "" {
			return errors.New("task event requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups a status code. Zero means no response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return StatusNone
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
