package drop

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxFiles is the largest number of entries a session's FileIndex may hold.
	MaxFiles = 25

	// MaxLogEvents is the number of most recent events kept in a session's EventLog.
	MaxLogEvents = 15

	// MinNameLength and MaxNameLength bound a participant's display name, in runes.
	MinNameLength = 3
	MaxNameLength = 25

	// MaxMessageLength bounds the text of a chat message, in runes.
	MaxMessageLength = 2000

	// DefaultExpiry is how long a session lives after its last reschedule point.
	DefaultExpiry = 24 * time.Hour
)

// Field names used in the metadata store for each session scope.
const (
	FieldFiles = "files"
	FieldLogs  = "logs"
)

// EventKind identifies what happened in a LogEvent.
type EventKind string

const (
	EventUserJoin   EventKind = "user_join"
	EventUserLeave  EventKind = "user_leave"
	EventFileUpload EventKind = "file_upload"
	EventFileDelete EventKind = "file_delete"
	EventMessage    EventKind = "message"
	EventClose      EventKind = "close"
)

// UploadedFile is the metadata kept for one file in a session.
// ID doubles as the display name and as the blob key suffix.
type UploadedFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type,omitempty"`
	Size       int64     `json:"size"`
	Encrypted  bool      `json:"encrypted"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// LogEvent is a single entry of the activity feed. File is set only for
// upload and delete events, Message only for chat messages.
type LogEvent struct {
	Kind    EventKind     `json:"kind"`
	User    string        `json:"user"`
	File    *UploadedFile `json:"file,omitempty"`
	Message string        `json:"message,omitempty"`
	Date    time.Time     `json:"date"`
}

// FileIndex maps file id to its metadata.
type FileIndex map[string]UploadedFile

// EventLog is the bounded, oldest-first history of a session.
type EventLog []LogEvent

// Append adds events and drops the oldest entries beyond MaxLogEvents.
func (l EventLog) Append(events ...LogEvent) EventLog {
	out := append(l, events...)
	if len(out) > MaxLogEvents {
		out = append(EventLog(nil), out[len(out)-MaxLogEvents:]...)
	}
	return out
}

// NewestFirst returns a reversed copy of the log.
func (l EventLog) NewestFirst() EventLog {
	out := make(EventLog, len(l))
	for i, e := range l {
		out[len(l)-1-i] = e
	}
	return out
}

func decodeFiles(data []byte) (FileIndex, error) {
	files := FileIndex{}
	if len(data) == 0 {
		return files, nil
	}
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decoding file index: %w", err)
	}
	if files == nil {
		files = FileIndex{}
	}
	return files, nil
}

func decodeLogs(data []byte) (EventLog, error) {
	logs := EventLog{}
	if len(data) == 0 {
		return logs, nil
	}
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("decoding event log: %w", err)
	}
	if logs == nil {
		logs = EventLog{}
	}
	return logs, nil
}
