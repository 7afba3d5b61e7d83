package services

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/luminapix/backend/internal/config"
	"github.com/luminapix/backend/internal/models"
)

// NotifierService delivers callback webhooks when a job reaches a
// terminal state. Delivery is best effort: one attempt, bounded by the
// configured timeout, and failures are logged rather than surfaced.
type NotifierService struct {
	client *http.Client
}

func NewNotifierService(cfg *config.WebhookConfig) *NotifierService {
	return &NotifierService{
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type webhookPayload struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Deliver posts the terminal status to callbackURL. A blank URL is a
// no-op.
func (s *NotifierService) Deliver(ctx context.Context, callbackURL, jobID string, status models.JobStatus) {
	if callbackURL == "" {
		return
	}

	body, err := json.Marshal(webhookPayload{
		JobID:     jobID,
		Status:    string(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("[WEBHOOK] marshal payload for job %s: %v", jobID, err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[WEBHOOK] build request for job %s: %v", jobID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[WEBHOOK] delivery failed for job %s: %v", jobID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[WEBHOOK] delivery for job %s returned status %d", jobID, resp.StatusCode)
		return
	}

	log.Printf("[WEBHOOK] delivered %s for job %s", status, jobID)
}
