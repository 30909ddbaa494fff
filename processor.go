package statusx

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Handler processes one job. The container is already in the working state;
// the handler reports progress through it and is expected to call Tick (or
// KillRequested) periodically so kill requests can take effect.
type Handler interface {
	ProcessJob(ctx context.Context, job *Container) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Container) error

func (f HandlerFunc) ProcessJob(ctx context.Context, job *Container) error {
	return f(ctx, job)
}

// ServeMux maps task types to handlers, mirroring asynq.ServeMux but with
// the container passed explicitly into the job body.
type ServeMux struct {
	handlers map[string]Handler
}

func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[string]Handler)}
}

func (m *ServeMux) Handle(taskType string, h Handler) {
	m.handlers[taskType] = h
}

func (m *ServeMux) HandleFunc(taskType string, f func(ctx context.Context, job *Container) error) {
	m.Handle(taskType, HandlerFunc(f))
}

// Processor manages background workers and drives the status state machine
// around every handler invocation.
type Processor struct {
	server *asynq.Server
	store  Store
	logger *slog.Logger
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	Logger      *slog.Logger
	// ErrorHandler receives every error a wrapped handler returns to
	// asynq, exactly as asynq's retry machinery sees it. Defaults to a
	// handler that logs.
	ErrorHandler asynq.ErrorHandler
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store Store, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := cfg.ErrorHandler
	if errorHandler == nil {
		errorHandler = asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task processing error",
				"task_type", task.Type(), "error", err)
		})
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:  con,
		Queues:       qs,
		Logger:       newAsynqLogger(logger),
		ErrorHandler: errorHandler,
	})
	return &Processor{server: server, store: store, logger: logger}
}

// wrap surrounds a handler with the status lifecycle:
//
//	queued → working → {completed, failed, killed}
//
// A record that cannot be found is a legitimate race (expired before the
// worker got to it) and the task is dropped without running the body. A kill
// requested before the body starts finalizes as killed without running it.
// A body error finalizes as failed and is re-returned unchanged so asynq's
// own retry machinery still sees it. A kill observed after the body returns
// wins over completion.
func (p *Processor) wrap(h Handler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		id, ok := asynq.GetTaskID(ctx)
		if !ok {
			// Task id doubles as job id; without it there is nothing
			// to report against.
			id = string(t.Payload())
		}

		job, err := Load(ctx, p.store, id)
		if errors.Is(err, ErrNotFound) {
			p.logger.InfoContext(ctx, "no status record for task, skipping",
				"job_id", id, "task_type", t.Type())
			return nil
		}
		if err != nil {
			return err
		}

		rec := job.Record()
		if rec.Status == StatusCompleted || rec.Status == StatusKilled {
			// Redelivery of an already finalized job; nothing to do.
			return nil
		}
		if rec.KillRequested {
			return p.finalize(ctx, job, StatusKilled)
		}

		if err := job.SetStatus(ctx, StatusWorking); err != nil {
			return err
		}

		bodyErr := h.ProcessJob(ctx, job)

		if bodyErr != nil && !errors.Is(bodyErr, ErrKilled) {
			if err := p.finalize(ctx, job, StatusFailed); err != nil {
				p.logger.ErrorContext(ctx, "finalize failed status",
					"job_id", id, "error", err)
			}
			return bodyErr
		}

		// Kill wins over completion: reload for a kill request that
		// landed while the body was running.
		if err := job.Reload(ctx); err != nil {
			p.logger.ErrorContext(ctx, "reload before finalize",
				"job_id", id, "error", err)
		}
		if errors.Is(bodyErr, ErrKilled) || job.Record().KillRequested {
			return p.finalize(ctx, job, StatusKilled)
		}
		return p.finalize(ctx, job, StatusCompleted)
	}
}

// finalize moves the job to a terminal status. Killed and completed report
// success to the queue so the task is not retried.
func (p *Processor) finalize(ctx context.Context, job *Container, status Status) error {
	return job.SetStatus(ctx, status)
}

// Start runs the server with the registered handlers, each wrapped with the
// status lifecycle. Blocks until Shutdown.
func (p *Processor) Start(mux *ServeMux) error {
	amux := asynq.NewServeMux()
	for taskType, h := range mux.handlers {
		amux.Handle(taskType, p.wrap(h))
	}
	return p.server.Run(amux)
}

func (p *Processor) Shutdown() { p.server.Shutdown() }
