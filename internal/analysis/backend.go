package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/buger/jsonparser"
)

// JobState is the backend's view of an analysis job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
)

type JobStatus struct {
	State  JobState
	Reason string
}

// Backend is the asynchronous transcription/insight service.
type Backend interface {
	Submit(ctx context.Context, callID, recordingRef string) (jobRef string, err error)
	Status(ctx context.Context, jobRef string) (JobStatus, error)
}

// HTTPBackend talks to the analysis service's JSON API:
//
//	POST {base}/jobs        {"callId","recordingUrl"} -> {"jobId"}
//	GET  {base}/jobs/{id}   -> {"status","reason"}
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPBackend(baseURL, apiKey string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (b *HTTPBackend) Submit(ctx context.Context, callID, recordingRef string) (string, error) {
	body, err := json.Marshal(map[string]string{"callId": callID, "recordingUrl": recordingRef})
	if err != nil {
		return "", err
	}
	resp, err := b.do(ctx, http.MethodPost, b.baseURL+"/jobs", body)
	if err != nil {
		return "", fmt.Errorf("analysis: submit: %w", err)
	}
	jobID, err := jsonparser.GetString(resp, "jobId")
	if err != nil || jobID == "" {
		return "", fmt.Errorf("analysis: submit: response without jobId")
	}
	return jobID, nil
}

func (b *HTTPBackend) Status(ctx context.Context, jobRef string) (JobStatus, error) {
	resp, err := b.do(ctx, http.MethodGet, b.baseURL+"/jobs/"+url.PathEscape(jobRef), nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("analysis: status %s: %w", jobRef, err)
	}
	raw, err := jsonparser.GetString(resp, "status")
	if err != nil {
		return JobStatus{}, fmt.Errorf("analysis: status %s: response without status", jobRef)
	}
	reason, _ := jsonparser.GetString(resp, "reason")

	st := JobStatus{Reason: reason}
	switch strings.ToLower(raw) {
	case "complete", "completed", "succeeded", "done":
		st.State = JobComplete
	case "failed", "error":
		st.State = JobFailed
	default:
		st.State = JobPending
	}
	return st, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return payload, nil
}
