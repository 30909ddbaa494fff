package statusx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Client wraps asynq.Client and a Store so every accepted job has a status
// record from the moment Enqueue returns.
type Client struct {
	client *asynq.Client
	store  Store
	queue  string
	logger *slog.Logger
}

type ClientOptions struct {
	Queue  string
	Logger *slog.Logger
}

func NewClient(redisOpt asynq.RedisClientOpt, store Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		store:  store,
		queue:  q,
		logger: logger,
	}
}

// Enqueue submits a job with a fresh uuid job id. Args are JSON encoded into
// the status record; the queue itself carries only the job id. Returns the
// job id on acceptance.
func (c *Client) Enqueue(ctx context.Context, taskType string, args any, options ...asynq.Option) (string, error) {
	return c.EnqueueWithID(ctx, uuid.NewString(), taskType, args, options...)
}

// EnqueueWithID is Enqueue with a caller-supplied job id. Ids must be
// unique: an id that is already tracked fails with ErrAlreadyExists, leaving
// the existing job's record untouched.
//
// The record is created before the queue sees the task, so a process
// inspecting the id immediately after Enqueue returns already finds it.
// If the queue rejects the submission the record is deleted again; a failure
// of that cleanup is logged and swallowed, since the stale queued record is
// pruned by expiry anyway. A failure to create the record aborts the enqueue
// outright: no job runs untracked.
func (c *Client) EnqueueWithID(ctx context.Context, id, taskType string, args any, options ...asynq.Option) (string, error) {
	cont, err := Create(ctx, c.store, id, args)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskType, []byte(id))
	// The queue and task id are owned by the client and appended last so a
	// caller-supplied asynq.TaskID cannot sever the record/task linkage.
	opts := append(options, asynq.Queue(c.queue), asynq.TaskID(id))
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		if derr := cont.Delete(ctx); derr != nil {
			c.logger.WarnContext(ctx, "delete record after rejected enqueue",
				"job_id", id, "error", derr)
		}
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return id, nil
}

// Status returns the current persisted record for id, or ErrNotFound.
func (c *Client) Status(ctx context.Context, id string) (*Record, error) {
	return c.store.Load(ctx, id)
}

// Kill requests cooperative cancellation of the job with the given id.
func (c *Client) Kill(ctx context.Context, id string) error {
	return c.store.SetKillRequested(ctx, id)
}

// KillAll requests cancellation of every tracked job. Records that vanish
// mid-iteration are skipped.
func (c *Client) KillAll(ctx context.Context) error {
	ids, err := c.store.List(ctx, time.Time{}, 0)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.store.SetKillRequested(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// List returns tracked job ids whose records expire at or before until,
// soonest first. Useful for dashboard views; pass the zero time for all
// tracked ids.
func (c *Client) List(ctx context.Context, until time.Time, limit int64) ([]string, error) {
	return c.store.List(ctx, until, limit)
}

func (c *Client) Close() error {
	return c.client.Close()
}
