package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Job struct {
	ID               string     `json:"job_id"`
	URL              string     `json:"url,omitempty"`
	Content          string     `json:"-"`
	Status           Status     `json:"status"`
	Summary          string     `json:"summary,omitempty"`
	Cached           bool       `json:"cached"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DispatchedAt     *time.Time `json:"-"`
}

// SubmitRequest is the payload used to submit content for summarization.
// Exactly one of URL or Text must be set.
type SubmitRequest struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

func (r *SubmitRequest) Validate(maxTextLen int) error {
	if r.URL == "" && r.Text == "" {
		return errors.New("either url or text must be provided")
	}
	if r.URL != "" && r.Text != "" {
		return errors.New("url and text are mutually exclusive")
	}
	if r.Text != "" {
		if strings.TrimSpace(r.Text) == "" {
			return errors.New("text must not be empty or contain only whitespace")
		}
		if len(r.Text) > maxTextLen {
			return fmt.Errorf("text is too long: maximum allowed length is %d characters, but received %d characters", maxTextLen, len(r.Text))
		}
	}
	return nil
}
