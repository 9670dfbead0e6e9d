package telemetry

import (
	"context"
	"log"

	"chat-engine/internal/coordinator"
)

// LogObserver writes one line per outcome. Successful non-mutating actions are only logged when
// Verbose is set.
type LogObserver struct {
	Verbose bool
}

func (l LogObserver) Observe(_ context.Context, o coordinator.Outcome) {
	if o.Err == nil {
		if !l.Verbose && !o.Mutating() {
			return
		}
		log.Printf("action=%s result=ok stage=%s user_id=%d room_id=%d message_id=%d conn_id=%s request_id=%s elapsed=%s",
			o.Action, o.Stage, o.UserID, o.RoomID, o.MessageID, o.ConnID, o.RequestID, o.Elapsed)
		return
	}
	log.Printf("action=%s result=%s stage=%s user_id=%d room_id=%d message_id=%d conn_id=%s request_id=%s elapsed=%s err=%v",
		o.Action, o.Result(), o.Stage, o.UserID, o.RoomID, o.MessageID, o.ConnID, o.RequestID, o.Elapsed, o.Err)
}
