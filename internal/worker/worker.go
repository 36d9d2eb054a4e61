package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pz26/confpass/pkg/queue"
)

// Jobs is the queue the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Renderer turns a QR payload into a PNG.
type Renderer interface {
	PNG(qrText string) ([]byte, error)
}

// Uploader stores rendered pass images.
type Uploader interface {
	UploadPass(ctx context.Context, regID string, png []byte) (string, error)
}

// Registrations reports whether a registration still exists.
type Registrations interface {
	Exists(ctx context.Context, regID string) (bool, error)
}

// PassExportProcessor processes pass export jobs: render the QR, upload it to S3.
type PassExportProcessor struct {
	jobs     Jobs
	renderer Renderer
	uploader Uploader
	regs     Registrations
	logger   *zap.Logger
	backoff  time.Duration
}

// NewPassExportProcessor creates a pass export processor.
func NewPassExportProcessor(jobs Jobs, renderer Renderer, uploader Uploader, regs Registrations, logger *zap.Logger) *PassExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PassExportProcessor{
		jobs:     jobs,
		renderer: renderer,
		uploader: uploader,
		regs:     regs,
		logger:   logger,
		backoff:  queue.RetryBackoff,
	}
}

// Process executes one pass export job. Jobs for registrations revoked
// since they were queued are dropped.
func (p *PassExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePassExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.PassExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	exists, err := p.regs.Exists(ctx, payload.RegID)
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !exists {
		p.logger.Info("registration gone, skipping export", zap.String("reg_id", payload.RegID))
		return nil
	}

	png, err := p.renderer.PNG(payload.QRText)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	key, err := p.uploader.UploadPass(ctx, payload.RegID, png)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("pass export completed", zap.String("reg_id", payload.RegID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *PassExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pass export worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
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
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *PassExportProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
