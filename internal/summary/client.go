package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Voice-ly/voice.ly-backend/internal/model"
)

type Participant struct {
	Email string `json:"email"`
}

// Payload is the body POSTed to the summarization service.
type Payload struct {
	MeetingID    string              `json:"meetingId"`
	Participants []Participant       `json:"participants"`
	ChatHistory  []model.ChatMessage `json:"chatHistory"`
}

type Summarizer interface {
	Submit(ctx context.Context, p Payload) error
}

// HTTPSummarizer posts payloads to an external endpoint. Only the status
// code of the reply is looked at.
type HTTPSummarizer struct {
	url    string
	client *http.Client
}

// NewHTTPSummarizer bounds each call by timeout. Zero leaves the call to the
// caller's context.
func NewHTTPSummarizer(url string, timeout time.Duration) *HTTPSummarizer {
	return &HTTPSummarizer{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSummarizer) Submit(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("summarizer: status %d", resp.StatusCode)
	}
	return nil
}
