package session

import "context"

// Callbacks receives session events. Nil fields are skipped.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(reason string)
	OnMessage      func(msg Message)
	OnDegraded     func(diagnostic string)
}

// Dispatch delivers events to cb on the calling goroutine until ctx is
// done or events is closed. All callbacks therefore run on one goroutine,
// which is usually the one that owns the UI state.
func Dispatch(ctx context.Context, events <-chan Event, cb Callbacks) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			cb.handle(ev)
		}
	}
}

func (cb Callbacks) handle(ev Event) {
	switch ev.Kind {
	case EventConnected:
		if cb.OnConnected != nil {
			cb.OnConnected()
		}
	case EventDisconnected:
		if cb.OnDisconnected != nil {
			cb.OnDisconnected()
		}
	case EventError:
		if cb.OnError != nil {
			cb.OnError(ev.Reason)
		}
	case EventMessage:
		if cb.OnMessage != nil && ev.Message != nil {
			cb.OnMessage(*ev.Message)
		}
	case EventDegraded:
		if cb.OnDegraded != nil {
			cb.OnDegraded(ev.Reason)
		}
	}
}
