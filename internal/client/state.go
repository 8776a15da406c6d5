package client

import (
	"slices"
	"sort"

	"filedrop/internal/drop"
)

// maxFeedEvents bounds the events kept for display.
const maxFeedEvents = 100

// SessionState is a client-side mirror of a session, rebuilt from the join
// snapshot and kept current by applying broadcast events.
type SessionState struct {
	Ready        bool
	BucketDomain string
	Files        drop.FileIndex
	Users        []string
	Events       []drop.LogEvent // oldest first
	Closed       bool
	LastError    string
}

// NewSessionState returns an empty state waiting for a snapshot.
func NewSessionState() *SessionState {
	return &SessionState{Files: drop.FileIndex{}}
}

// Apply folds one server frame into the state.
func (s *SessionState) Apply(frame drop.ServerFrame) {
	switch {
	case frame.Error != "":
		s.LastError = frame.Error
	case frame.IsSnapshot():
		s.Ready = true
		s.BucketDomain = frame.BucketDomain
		s.Files = drop.FileIndex{}
		for id, f := range frame.Files {
			s.Files[id] = f
		}
		s.Users = slices.Clone(frame.Users)
		s.Events = s.Events[:0]
		// Snapshot logs arrive newest first.
		for i := len(frame.Logs) - 1; i >= 0; i-- {
			s.Events = append(s.Events, frame.Logs[i])
		}
		s.LastError = ""
	case frame.IsEvent():
		s.applyEvent(frame.LogEvent)
	}
}

func (s *SessionState) applyEvent(event drop.LogEvent) {
	switch event.Kind {
	case drop.EventUserJoin:
		s.Users = append(s.Users, event.User)
	case drop.EventUserLeave:
		if i := slices.Index(s.Users, event.User); i >= 0 {
			s.Users = slices.Delete(s.Users, i, i+1)
		}
	case drop.EventFileUpload:
		if event.File != nil {
			s.Files[event.File.ID] = *event.File
		}
	case drop.EventFileDelete:
		if event.File != nil {
			delete(s.Files, event.File.ID)
		}
	case drop.EventClose:
		s.Closed = true
		s.Users = nil
	}

	s.Events = append(s.Events, event)
	if len(s.Events) > maxFeedEvents {
		s.Events = slices.Clone(s.Events[len(s.Events)-maxFeedEvents:])
	}
}

// SortedFiles returns the files ordered by id.
func (s *SessionState) SortedFiles() []drop.UploadedFile {
	files := make([]drop.UploadedFile, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files
}
