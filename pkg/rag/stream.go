package rag

import "context"

type EventType int

const (
	EventFragment EventType = iota
	EventComplete
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventFragment:
		return "fragment"
	case EventComplete:
		return "complete"
	default:
		return "failed"
	}
}

// Event is one element of an answer stream. Fragment events carry partial
// text, Complete carries the full answer and Failed carries the error.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// AskStream answers query as a stream of events ending in exactly one
// Complete or Failed event, after which the channel is closed. Once ctx is
// cancelled the terminal event may be dropped, but the channel is still
// closed. The session stays locked until the channel is closed, so a
// consumer that stops reading early must cancel ctx. Memory is only updated
// once the Complete event has been delivered.
func (s *Session) AskStream(ctx context.Context, query string) <-chan Event {
	events := make(chan Event)

	s.mu.Lock()
	go func() {
		defer s.mu.Unlock()
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		answer, err := s.answer(ctx, query, func(fragment string) error {
			if !send(Event{Type: EventFragment, Text: fragment}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			send(Event{Type: EventFailed, Err: err})
			return
		}

		if send(Event{Type: EventComplete, Text: answer}) {
			s.remember(query, answer)
		}
	}()

	return events
}
