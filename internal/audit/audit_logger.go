package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/luminapix/backend/internal/models"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	JobID     string    `json:"job_id,omitempty"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogEntry(entry *models.LedgerEntry) {
	event := Event{
		Timestamp: time.Now(),
		EventType: string(entry.Kind),
		AccountID: entry.AccountID,
		Amount:    entry.Amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"entry_id":  entry.ID,
			"reason":    entry.Reason,
			"reference": entry.Reference,
		},
	}
	a.log(event)
}

func (a *Logger) LogTransition(jobID, accountID string, from, to models.JobStatus) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "JOB_TRANSITION",
		JobID:     jobID,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details: map[string]string{
			"from": string(from),
			"to":   string(to),
		},
	}
	a.log(event)
}

func (a *Logger) LogError(jobID, accountID string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		JobID:     jobID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
