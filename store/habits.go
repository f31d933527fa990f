package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HabitsKey is the collection key habits persist under.
const HabitsKey = "habits"

// Habit is one tracked habit.
type Habit struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	CompletedDates []string `json:"completedDates"` // YYYY-MM-DD
	Streak         int      `json:"streak"`
	UpdatedAt      int64    `json:"updatedAt"`
}

func (h Habit) RecordID() string       { return h.ID }
func (h Habit) RecordUpdatedAt() int64 { return h.UpdatedAt }

// habitsSnapshot is the persisted shape of the habits collection.
type habitsSnapshot struct {
	Items []Habit `json:"items"`
}

// Habits is the habit domain store.
type Habits struct {
	col   *Collection[Habit]
	write WriteFunc
	now   func() int64
}

// NewHabits constructs the store. write schedules the remote sync; pass the
// manager's Write method. nowMillis may be nil.
func NewHabits(write WriteFunc, nowMillis func() int64) *Habits {
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	return &Habits{
		col:   NewCollection[Habit](nil),
		write: write,
		now:   nowMillis,
	}
}

// Items returns the habits in display order.
func (s *Habits) Items() []Habit { return s.col.Items() }

// Loading reports whether the first remote snapshot is still pending.
func (s *Habits) Loading() bool { return s.col.Loading() }

// Add creates a habit and schedules a sync.
func (s *Habits) Add(name string) Habit {
	h := Habit{ID: uuid.NewString(), Name: name, UpdatedAt: s.now()}
	items := s.col.Mutate(func(items []Habit) []Habit {
		return append(items, h)
	})
	s.scheduleWrite(items)
	return h
}

// ToggleCompletion flips the completion state of a habit for the given day
// and schedules a sync.
func (s *Habits) ToggleCompletion(id, date string) {
	items := s.col.Mutate(func(items []Habit) []Habit {
		for i := range items {
			if items[i].ID != id {
				continue
			}
			items[i].CompletedDates = toggleDate(items[i].CompletedDates, date)
			items[i].UpdatedAt = s.now()
		}
		return items
	})
	s.scheduleWrite(items)
}

// Remove deletes a habit and schedules a sync.
func (s *Habits) Remove(id string) {
	items := s.col.Mutate(func(items []Habit) []Habit {
		out := items[:0]
		for _, h := range items {
			if h.ID != id {
				out = append(out, h)
			}
		}
		return out
	})
	s.scheduleWrite(items)
}

func (s *Habits) scheduleWrite(items []Habit) {
	s.write(HabitsKey, habitsSnapshot{Items: items})
}

// ApplyRemoteSnapshot hydrates the store from a remote envelope value. A nil
// value means the document has never been written. Hydration never schedules
// a write back; only user mutations do.
func (s *Habits) ApplyRemoteSnapshot(value json.RawMessage) {
	if value == nil {
		s.col.Hydrate(nil, false)
		return
	}
	var snap habitsSnapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		log.Warn().Err(err).Str("key", HabitsKey).Msg("store: undecodable remote snapshot ignored")
		s.col.Hydrate(nil, false)
		return
	}
	s.col.Hydrate(snap.Items, true)
}

func toggleDate(dates []string, date string) []string {
	for i, d := range dates {
		if d == date {
			return append(dates[:i], dates[i+1:]...)
		}
	}
	return append(dates, date)
}
