package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NotesKey is the collection key journal notes persist under.
const NotesKey = "notes"

// Note is one journal entry.
type Note struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (n Note) RecordID() string       { return n.ID }
func (n Note) RecordUpdatedAt() int64 { return n.UpdatedAt }

type notesSnapshot struct {
	Items []Note `json:"items"`
}

// BackupFunc persists a last-resort local copy of the notes snapshot.
// The notes store is the one place where losing an unsynced edit means
// losing user prose, so every mutation is mirrored locally as well.
type BackupFunc func(rawSnapshot string, updatedAt int64)

// Notes is the journal domain store.
type Notes struct {
	col    *Collection[Note]
	write  WriteFunc
	backup BackupFunc
	now    func() int64
}

// NewNotes constructs the store. backup may be nil.
func NewNotes(write WriteFunc, backup BackupFunc, nowMillis func() int64) *Notes {
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	return &Notes{
		col:    NewCollection[Note](nil),
		write:  write,
		backup: backup,
		now:    nowMillis,
	}
}

// Items returns the notes in display order.
func (s *Notes) Items() []Note { return s.col.Items() }

// Loading reports whether the first remote snapshot is still pending.
func (s *Notes) Loading() bool { return s.col.Loading() }

// Add creates a note and schedules a sync.
func (s *Notes) Add(title, body string) Note {
	n := Note{ID: uuid.NewString(), Title: title, Body: body, UpdatedAt: s.now()}
	items := s.col.Mutate(func(items []Note) []Note {
		return append(items, n)
	})
	s.scheduleWrite(items)
	return n
}

// Update edits a note in place and schedules a sync.
func (s *Notes) Update(id, title, body string) {
	items := s.col.Mutate(func(items []Note) []Note {
		for i := range items {
			if items[i].ID == id {
				items[i].Title = title
				items[i].Body = body
				items[i].UpdatedAt = s.now()
			}
		}
		return items
	})
	s.scheduleWrite(items)
}

// Remove deletes a note and schedules a sync.
func (s *Notes) Remove(id string) {
	items := s.col.Mutate(func(items []Note) []Note {
		out := items[:0]
		for _, n := range items {
			if n.ID != id {
				out = append(out, n)
			}
		}
		return out
	})
	s.scheduleWrite(items)
}

func (s *Notes) scheduleWrite(items []Note) {
	snap := notesSnapshot{Items: items}
	s.write(NotesKey, snap)
	if s.backup != nil {
		raw, err := json.Marshal(snap)
		if err != nil {
			log.Warn().Err(err).Msg("store: notes backup marshal failed")
			return
		}
		s.backup(string(raw), s.now())
	}
}

// ApplyRemoteSnapshot hydrates the store from a remote envelope value. Notes
// use the reconciling merge on every hydration after the first, so
// concurrent cross-device edits keep the newer copy of each note.
func (s *Notes) ApplyRemoteSnapshot(value json.RawMessage) {
	if value == nil {
		s.col.Hydrate(nil, false)
		return
	}
	var snap notesSnapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		log.Warn().Err(err).Str("key", NotesKey).Msg("store: undecodable remote snapshot ignored")
		s.col.Hydrate(nil, false)
		return
	}
	s.col.Hydrate(snap.Items, true)
}

// RestoreFromBackup seeds the store from the last-resort local copy, used
// before the first remote snapshot arrives on cold start while offline.
// It does not mark the store hydrated, so the first remote snapshot still
// takes the first-hydration path.
func (s *Notes) RestoreFromBackup(rawSnapshot string) {
	var snap notesSnapshot
	if err := json.Unmarshal([]byte(rawSnapshot), &snap); err != nil {
		log.Warn().Err(err).Msg("store: notes backup unreadable")
		return
	}
	s.col.Mutate(func([]Note) []Note { return snap.Items })
}
