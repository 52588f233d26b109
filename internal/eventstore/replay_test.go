package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/webhooks/internal/models"
)

// memorySource is an in-memory event log for replay tests
type memorySource struct {
	events  []models.StoredEvent
	queries int
}

func (m *memorySource) Query(ctx context.Context, filter Filter) ([]models.StoredEvent, error) {
	m.queries++

	var out []models.StoredEvent
	for _, e := range m.events {
		if filter.FromSequence > 0 && e.Sequence < filter.FromSequence {
			continue
		}
		if filter.ToSequence > 0 && e.Sequence > filter.ToSequence {
			continue
		}
		if len(filter.EventTypes) > 0 && !containsType(filter.EventTypes, e.EventType) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memorySource) CurrentSequence(ctx context.Context) (uint64, error) {
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Sequence, nil
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func makeEvents(sequences ...uint64) []models.StoredEvent {
	events := make([]models.StoredEvent, 0, len(sequences))
	for _, seq := range sequences {
		events = append(events, models.StoredEvent{Sequence: seq, EventType: "test.event"})
	}
	return events
}

func collect(t *testing.T, r *Replayer) []uint64 {
	t.Helper()

	var got []uint64
	for {
		batch, err := r.Next(context.Background())
		require.NoError(t, err)
		if batch == nil {
			return got
		}
		for _, e := range batch {
			got = append(got, e.Sequence)
		}
	}
}

func TestReplayCompleteAcrossBatches(t *testing.T) {
	source := &memorySource{}
	for seq := uint64(1); seq <= 100; seq++ {
		source.events = append(source.events, models.StoredEvent{Sequence: seq, EventType: "test.event"})
	}

	r := NewReplayer(source, ReplayOptions{FromSequence: 1, BatchSize: 10})

	got := collect(t, r)
	require.Len(t, got, 100)
	for i, seq := range got {
		require.Equal(t, uint64(i+1), seq)
	}
	require.True(t, r.Done())
}

func TestReplayFromMidLog(t *testing.T) {
	source := &memorySource{events: makeEvents(1, 2, 3, 4, 5, 6, 7, 8)}

	r := NewReplayer(source, ReplayOptions{FromSequence: 5, BatchSize: 2})

	require.Equal(t, []uint64{5, 6, 7, 8}, collect(t, r))
}

func TestReplayHonorsToSequence(t *testing.T) {
	source := &memorySource{events: makeEvents(1, 2, 3, 4, 5, 6)}

	r := NewReplayer(source, ReplayOptions{FromSequence: 2, ToSequence: 4, BatchSize: 10})

	require.Equal(t, []uint64{2, 3, 4}, collect(t, r))
}

func TestReplaySurvivesSequenceGaps(t *testing.T) {
	// A rolled-back append leaves a hole; the replay must not stop at
	// it even when a batch boundary lands exactly on the gap
	source := &memorySource{events: makeEvents(1, 2, 4, 5, 6, 9, 10)}

	r := NewReplayer(source, ReplayOptions{FromSequence: 1, BatchSize: 2})

	require.Equal(t, []uint64{1, 2, 4, 5, 6, 9, 10}, collect(t, r))
}

func TestReplayIgnoresEventsAppendedAfterStart(t *testing.T) {
	source := &memorySource{events: makeEvents(1, 2, 3)}

	r := NewReplayer(source, ReplayOptions{FromSequence: 1, BatchSize: 2})

	first, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)

	// New appends land while the consumer is iterating
	source.events = append(source.events, makeEvents(4, 5)...)

	require.Equal(t, []uint64{3}, collect(t, r))
}

func TestReplayEmptyLog(t *testing.T) {
	source := &memorySource{}

	r := NewReplayer(source, ReplayOptions{FromSequence: 1, BatchSize: 10})

	batch, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, batch)
	require.True(t, r.Done())
}

func TestReplayFiltersEventTypes(t *testing.T) {
	source := &memorySource{events: []models.StoredEvent{
		{Sequence: 1, EventType: "a"},
		{Sequence: 2, EventType: "b"},
		{Sequence: 3, EventType: "a"},
		{Sequence: 4, EventType: "b"},
	}}

	r := NewReplayer(source, ReplayOptions{FromSequence: 1, BatchSize: 10, EventTypes: []string{"b"}})

	require.Equal(t, []uint64{2, 4}, collect(t, r))
}
