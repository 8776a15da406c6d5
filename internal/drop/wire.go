package drop

import "fmt"

// ActionMessage is the client frame action that sends a chat message.
const ActionMessage = "message"

// ClientFrame is a message sent by a participant over its channel.
// A frame without an action is a join request carrying Name.
type ClientFrame struct {
	Name    *string `json:"name,omitempty"`
	Action  string  `json:"action,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Snapshot is sent once to a connection right after it joins.
// Logs are newest first.
type Snapshot struct {
	Ready        bool      `json:"ready"`
	BucketDomain string    `json:"bucketDomain,omitempty"`
	Files        FileIndex `json:"files"`
	Logs         EventLog  `json:"logs"`
	Users        []string  `json:"users"`
}

// ErrorFrame reports a non-fatal problem back to one connection.
type ErrorFrame struct {
	Error string `json:"error"`
}

// ServerFrame is the union of everything the server sends, used by clients
// to decode a frame before knowing its shape.
type ServerFrame struct {
	Snapshot
	LogEvent
	Error string `json:"error,omitempty"`
}

// IsSnapshot reports whether the frame is the join snapshot.
func (f *ServerFrame) IsSnapshot() bool { return f.Ready }

// IsEvent reports whether the frame is a broadcast LogEvent.
func (f *ServerFrame) IsEvent() bool { return f.Kind != "" }

func invalidNameMessage(name string) string {
	return fmt.Sprintf("Invalid name: %s.", name)
}
