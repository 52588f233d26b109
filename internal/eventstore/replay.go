package eventstore

import (
	"context"

	"example.com/backstage/services/webhooks/internal/models"
)

const defaultBatchSize = 100

// replaySource is the read surface a Replayer needs from a store
type replaySource interface {
	Query(ctx context.Context, filter Filter) ([]models.StoredEvent, error)
	CurrentSequence(ctx context.Context) (uint64, error)
}

// Replayer is a finite, ordered, restartable read of the event log
// from a given sequence forward. It is a catch-up read, not a live
// subscription: the end of the log is captured when the first batch is
// fetched and events appended after that point are not returned.
//
// The consumer stops work simply by not calling Next again.
type Replayer struct {
	source replaySource
	opts   ReplayOptions

	cursor uint64
	end    uint64
	ended  bool
	done   bool
}

// NewReplayer creates a replayer positioned at opts.FromSequence
func NewReplayer(source replaySource, opts ReplayOptions) *Replayer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	cursor := opts.FromSequence
	if cursor == 0 {
		cursor = 1
	}
	return &Replayer{
		source: source,
		opts:   opts,
		cursor: cursor,
	}
}

// Next returns the next batch of events ordered by sequence ascending,
// or nil when the replay has caught up to the end of the log. A batch
// never repeats a sequence already returned and never skips a stored
// one; termination is decided against the captured end of the log, not
// against the batch length, so sequence gaps from rolled-back appends
// do not end the replay early.
func (r *Replayer) Next(ctx context.Context) ([]models.StoredEvent, error) {
	if r.done {
		return nil, nil
	}

	if !r.ended {
		end, err := r.source.CurrentSequence(ctx)
		if err != nil {
			return nil, err
		}
		if r.opts.ToSequence > 0 && r.opts.ToSequence < end {
			end = r.opts.ToSequence
		}
		r.end = end
		r.ended = true
	}

	if r.cursor > r.end {
		r.done = true
		return nil, nil
	}

	batch, err := r.source.Query(ctx, Filter{
		FromSequence: r.cursor,
		ToSequence:   r.end,
		EventTypes:   r.opts.EventTypes,
		AggregateID:  r.opts.AggregateID,
		Limit:        r.opts.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	if len(batch) < r.opts.BatchSize {
		// No further rows exist in [cursor, end]
		r.done = true
	} else {
		r.cursor = batch[len(batch)-1].Sequence + 1
	}

	if len(batch) == 0 {
		return nil, nil
	}
	return batch, nil
}

// Done reports whether the replay has been exhausted
func (r *Replayer) Done() bool {
	return r.done
}
