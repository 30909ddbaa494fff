package statusx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Container is the in-process view over one job's persisted status record.
//
// Correctness relies on the single-writer discipline the host queue already
// guarantees: at most one process executes a given job id at a time, and only
// that process calls the mutating setters. Any number of other processes may
// Load/Reload the same id, read its fields, or call RequestKill. The
// container itself takes no locks.
type Container struct {
	store Store
	rec   *Record
}

// Create builds a new queued record for id, capturing args (JSON encoded)
// immutably, and persists it. An id that is already tracked yields
// ErrAlreadyExists and leaves the existing record untouched. A store failure
// here must abort the enqueue: no job should run without a trackable record.
func Create(ctx context.Context, store Store, id string, args any) (*Container, error) {
	if id == "" {
		return nil, fmt.Errorf("create container: empty job id")
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("create container %s: marshal args: %w", id, err)
	}
	rec := &Record{
		ID:        id,
		Status:    StatusQueued,
		Args:      argsJSON,
		CreatedAt: time.Now().UTC(),
	}
	c := &Container{store: store, rec: rec}
	if err := store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create container %s: %w", id, err)
	}
	return c, nil
}

// Load fetches the current persisted record for id. Returns ErrNotFound for
// unknown or expired ids.
func Load(ctx context.Context, store Store, id string) (*Container, error) {
	rec, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Container{store: store, rec: rec}, nil
}

// ID returns the job id this container tracks.
func (c *Container) ID() string { return c.rec.ID }

// Record returns a copy of the last observed record. Call Reload first for
// fresh values.
func (c *Container) Record() Record { return *c.rec }

// Reload replaces every in-memory field with the latest persisted state.
// Readers use it to observe writer progress; two reloads with no intervening
// writes return identical values.
func (c *Container) Reload(ctx context.Context) error {
	rec, err := c.store.Load(ctx, c.rec.ID)
	if err != nil {
		return err
	}
	c.rec = rec
	return nil
}

// SetProgress records progress in one write. The message is replaced every
// time; pass the previous message again to keep it. Payload is untouched.
func (c *Container) SetProgress(ctx context.Context, at, total int64, message string) error {
	c.rec.At = at
	c.rec.Total = total
	c.rec.Message = message
	return c.save(ctx)
}

// SetAt updates the progress numerator alone. As with SetProgress the
// message is replaced every time; pass the previous message again to keep
// it.
func (c *Container) SetAt(ctx context.Context, at int64, message string) error {
	c.rec.At = at
	c.rec.Message = message
	return c.save(ctx)
}

// SetTotal updates the progress denominator, leaving the numerator and
// message untouched.
func (c *Container) SetTotal(ctx context.Context, total int64) error {
	c.rec.Total = total
	return c.save(ctx)
}

// SetMessage updates only the progress note.
func (c *Container) SetMessage(ctx context.Context, message string) error {
	c.rec.Message = message
	return c.save(ctx)
}

// SetPayload attaches an arbitrary user value (JSON encoded) to the record.
// Unlike the message it survives progress updates and job completion, until
// overwritten or the record expires.
func (c *Container) SetPayload(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("set payload %s: marshal: %w", c.rec.ID, err)
	}
	c.rec.Payload = data
	return c.save(ctx)
}

// SetStatus validates the transition against the status graph and persists
// it. Reaching a terminal status clears the progress message. An illegal
// transition is a hard fault.
func (c *Container) SetStatus(ctx context.Context, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("set status %s: invalid status %q", c.rec.ID, next)
	}
	if !c.rec.Status.CanTransition(next) {
		return &IllegalTransitionError{From: c.rec.Status, To: next}
	}
	c.rec.Status = next
	if next.Terminal() {
		c.rec.Message = ""
	}
	return c.save(ctx)
}

// RequestKill raises the kill flag. Fire-and-forget: the job stops only at
// its next checkpoint, and the requester must poll status to confirm. Safe
// to call from any process; has no effect once the job has left working.
func (c *Container) RequestKill(ctx context.Context) error {
	if err := c.store.SetKillRequested(ctx, c.rec.ID); err != nil {
		return err
	}
	c.rec.KillRequested = true
	return nil
}

// KillRequested reads the persisted kill flag fresh from the store.
func (c *Container) KillRequested(ctx context.Context) (bool, error) {
	killed, err := c.store.KillRequested(ctx, c.rec.ID)
	if err != nil {
		return false, err
	}
	c.rec.KillRequested = killed
	return killed, nil
}

// Tick is the checkpoint job bodies call from their work loop: it records
// progress and then polls for a kill request, returning ErrKilled when one
// is pending. The granularity of cancellation equals how often the body
// calls it.
func (c *Container) Tick(ctx context.Context, at, total int64, message string) error {
	if err := c.SetProgress(ctx, at, total, message); err != nil {
		return err
	}
	killed, err := c.KillRequested(ctx)
	if err != nil {
		return err
	}
	if killed {
		return ErrKilled
	}
	return nil
}

// Delete removes the record immediately, without waiting for expiry.
func (c *Container) Delete(ctx context.Context) error {
	return c.store.Delete(ctx, c.rec.ID)
}

func (c *Container) save(ctx context.Context) error {
	return c.store.Save(ctx, c.rec)
}
