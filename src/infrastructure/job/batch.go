package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentrag/src/core/orchestrator"
)

const TaskTypeBatchAnswer = "batch_answer"

// BatchPayload is the payload of a batch answer job.
type BatchPayload struct {
	Questions []string `json:"questions"`
	FastMode  bool     `json:"fast_mode,omitempty"`
}

// ReportItem is the outcome of one question in a batch.
type ReportItem struct {
	Question       string  `json:"question"`
	Answer         string  `json:"answer"`
	CacheHit       bool    `json:"cache_hit"`
	ProcessingTime float64 `json:"processing_time"`
	Tools          int     `json:"tool_calls"`
	Sources        int     `json:"sources"`
	Error          string  `json:"error,omitempty"`
}

type Report struct {
	JobID      int          `json:"job_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	CacheHits  int          `json:"cache_hits"`
	Failures   int          `json:"failures"`
	Items      []ReportItem `json:"items"`
}

type Resolver interface {
	Resolve(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// ReportStore uploads a finished report and returns where it was written.
type ReportStore interface {
	PutJSON(ctx context.Context, bucket, object string, data []byte) (string, error)
}

// BatchTask answers every question of a batch through the orchestrator,
// which fills the semantic cache as a side effect.
type BatchTask struct {
	resolver Resolver
	reports  ReportStore
	bucket   string
	now      func() time.Time
}

// NewBatchTask builds the task. A nil report store skips uploads.
func NewBatchTask(resolver Resolver, reports ReportStore, bucket string) *BatchTask {
	return &BatchTask{
		resolver: resolver,
		reports:  reports,
		bucket:   bucket,
		now:      time.Now,
	}
}

// Run resolves the questions in order, reporting progress after each one.
// A failing question is recorded and the batch carries on.
func (t *BatchTask) Run(ctx context.Context, jobID int, payload BatchPayload, progress func(done int)) (*Report, error) {
	report := &Report{JobID: jobID, StartedAt: t.now()}
	for i, q := range payload.Questions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item := ReportItem{Question: q}
		resp, err := t.resolver.Resolve(ctx, orchestrator.Request{Question: q, FastMode: payload.FastMode})
		if resp != nil {
			item.Answer = resp.Answer
			item.CacheHit = resp.CacheHit
			item.ProcessingTime = resp.ProcessingTime
			item.Tools = len(resp.ToolTrace)
			item.Sources = len(resp.Sources)
		}
		if err != nil {
			item.Error = err.Error()
			report.Failures++
		}
		if item.CacheHit {
			report.CacheHits++
		}
		report.Items = append(report.Items, item)
		if progress != nil {
			progress(i + 1)
		}
	}
	report.FinishedAt = t.now()
	return report, nil
}

// Handle runs a queued batch job and uploads its report.
func (t *BatchTask) Handle(ctx context.Context, jobID int, raw json.RawMessage) (string, error) {
	var payload BatchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal batch payload: %w", err)
	}
	if len(payload.Questions) == 0 {
		return "", fmt.Errorf("batch has no questions")
	}

	report, err := t.Run(ctx, jobID, payload, nil)
	if err != nil {
		return "", err
	}
	if t.reports == nil {
		return "", nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	object := fmt.Sprintf("batch-%d-%s.json", jobID, report.FinishedAt.UTC().Format("20060102T150405Z"))
	location, err := t.reports.PutJSON(ctx, t.bucket, object, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	return location, nil
}
