package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/id"
)

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO antares_events (id, name, payload, acked, created_at)
		VALUES ($1, $2, $3, FALSE, $4)`,
		evt.ID.String(), evt.Name, evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: publish event: %w", err)
	}
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Polls the pending index until an event shows up or the timeout
// expires.
func (s *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var (
			evt       event.Event
			eID       string
			createdAt time.Time
		)
		err := s.pool.QueryRow(ctx, `
			SELECT id, name, payload, acked, created_at
			FROM antares_events
			WHERE name = $1 AND NOT acked
			ORDER BY created_at
			LIMIT 1`,
			name,
		).Scan(&eID, &evt.Name, &evt.Payload, &evt.Acked, &createdAt)
		if err == nil {
			evt.ID, err = id.ParseEventID(eID)
			if err != nil {
				return nil, fmt.Errorf("antares/postgres: parse event id: %w", err)
			}
			evt.CreatedAt = createdAt
			return &evt, nil
		}
		if !isNoRows(err) {
			return nil, fmt.Errorf("antares/postgres: subscribe event: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		blockTime := 50 * time.Millisecond
		if blockTime > remaining {
			blockTime = remaining
		}
		timer := time.NewTimer(blockTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_events SET acked = TRUE WHERE id = $1`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrEventNotFound
	}
	return nil
}
