package ws

import "time"

// ConnInfo identifies one websocket connection for routing and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DisplayName string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// ConnStatus is the operator view of one live connection.
type ConnStatus struct {
	ConnID      string     `json:"conn_id"`
	DeviceID    string     `json:"device_id,omitempty"`
	IP          string     `json:"ip,omitempty"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastActive  *time.Time `json:"last_active,omitempty"`
}

// Session is what the dispatcher knows about the connection an action arrived on.
type Session struct {
	ConnID      string
	UserID      int64
	DisplayName string
	RequestID   string
}

func (i ConnInfo) Session() Session {
	return Session{ConnID: i.ConnID, UserID: i.UserID, DisplayName: i.DisplayName, RequestID: i.RequestID}
}
