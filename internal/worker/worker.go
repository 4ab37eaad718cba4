// Package worker renders results exports in the background.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/aggregate"
	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/storage"
)

// ExportStore tracks export job state.
type ExportStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Export, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, key string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// SessionReader loads a session.
type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// PollLister lists a session's slides in order.
type PollLister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error)
}

// ResponseLister lists a poll's responses in submission order.
type ResponseLister interface {
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Response, error)
}

// Uploader stores rendered exports.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error
}

// JobSource hands out jobs and takes failed ones back.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ExportEvents announces finished exports.
type ExportEvents interface {
	PublishExportCompleted(ctx context.Context, data events.ExportData) error
	PublishExportFailed(ctx context.Context, data events.ExportData) error
}

// Deps groups the collaborators of an ExportProcessor. Events is optional.
type Deps struct {
	Exports   ExportStore
	Sessions  SessionReader
	Polls     PollLister
	Responses ResponseLister
	Uploader  Uploader
	Queue     JobSource
	Events    ExportEvents
}

// Report is the JSON document written for one export.
type Report struct {
	ExportID    uuid.UUID     `json:"exportId"`
	Session     ReportSession `json:"session"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Polls       []ReportPoll  `json:"polls"`
}

// ReportSession is the session header of a report.
type ReportSession struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Code      string     `json:"code"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// ReportPoll is one slide with its final results.
type ReportPoll struct {
	ID         uuid.UUID         `json:"id"`
	Type       models.PollType   `json:"type"`
	Question   string            `json:"question"`
	OrderIndex int               `json:"orderIndex"`
	Results    aggregate.Summary `json:"results"`
}

// ExportProcessor processes results export jobs: aggregate every poll, upload JSON to S3, update DB.
type ExportProcessor struct {
	deps    Deps
	logger  *zap.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewExportProcessor creates an export processor.
func NewExportProcessor(deps Deps, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{deps: deps, logger: logger, backoff: queue.RetryBackoff, now: time.Now}
}

// Process executes one export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	e, err := p.deps.Exports.GetByID(ctx, payload.ExportID)
	if err != nil {
		return fmt.Errorf("load export %s: %w", payload.ExportID, err)
	}
	if e.Status == models.ExportStatusCompleted {
		p.logger.Info("export already completed", zap.String("export_id", e.ID.String()))
		return nil
	}
	if err := p.deps.Exports.MarkRunning(ctx, e.ID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	report, err := p.buildReport(ctx, e.ID, e.SessionID)
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := storage.ExportKey(e.SessionID.String(), e.ID.String())
	if err := p.deps.Uploader.Upload(ctx, key, storage.ContentTypeJSON, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.deps.Exports.MarkCompleted(ctx, e.ID, key); err != nil {
		p.logger.Error("update export result failed", zap.Error(err), zap.String("export_id", e.ID.String()))
		return fmt.Errorf("update db: %w", err)
	}

	if p.deps.Events != nil {
		data := events.ExportData{ExportID: e.ID, SessionID: e.SessionID, S3Key: key}
		if err := p.deps.Events.PublishExportCompleted(ctx, data); err != nil {
			p.logger.Warn("publish export completed", zap.String("export_id", e.ID.String()), zap.Error(err))
		}
	}
	p.logger.Info("export completed", zap.String("export_id", e.ID.String()), zap.String("s3_key", key), zap.Int("polls", len(report.Polls)))
	return nil
}

func (p *ExportProcessor) buildReport(ctx context.Context, exportID, sessionID uuid.UUID) (*Report, error) {
	s, err := p.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	polls, err := p.deps.Polls.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	report := &Report{
		ExportID:    exportID,
		GeneratedAt: p.now().UTC(),
		Session: ReportSession{
			ID:        s.ID,
			Title:     s.Title,
			Code:      s.Code,
			IsActive:  s.IsActive,
			CreatedAt: s.CreatedAt,
			EndedAt:   s.EndedAt,
		},
		Polls: make([]ReportPoll, 0, len(polls)),
	}
	for _, poll := range polls {
		responses, err := p.deps.Responses.ListByPoll(ctx, poll.ID)
		if err != nil {
			return nil, fmt.Errorf("list responses for poll %s: %w", poll.ID, err)
		}
		report.Polls = append(report.Polls, ReportPoll{
			ID:         poll.ID,
			Type:       poll.Type,
			Question:   poll.Question,
			OrderIndex: poll.OrderIndex,
			Results:    aggregate.Summarize(poll.Type, poll.Options, responses),
		})
	}
	return report, nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if job.Exhausted() {
				p.giveUp(ctx, job, err)
			}
			if reErr := p.deps.Queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

// giveUp records the final failure of an export whose retries are spent.
func (p *ExportProcessor) giveUp(ctx context.Context, job *queue.Job, cause error) {
	var payload queue.ExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ExportID == uuid.Nil {
		return
	}
	if err := p.deps.Exports.MarkFailed(ctx, payload.ExportID, cause.Error()); err != nil {
		p.logger.Error("mark export failed", zap.String("export_id", payload.ExportID.String()), zap.Error(err))
	}
	if p.deps.Events != nil {
		data := events.ExportData{ExportID: payload.ExportID, SessionID: payload.SessionID, Error: cause.Error()}
		if err := p.deps.Events.PublishExportFailed(ctx, data); err != nil {
			p.logger.Warn("publish export failed", zap.String("export_id", payload.ExportID.String()), zap.Error(err))
		}
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
