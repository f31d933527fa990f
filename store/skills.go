package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SkillsKey is the collection key skills persist under.
const SkillsKey = "skills"

// Skill tracks accumulated practice toward a skill.
type Skill struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Progress  float64 `json:"progress"` // accumulated hours
	UpdatedAt int64   `json:"updatedAt"`
}

func (s Skill) RecordID() string       { return s.ID }
func (s Skill) RecordUpdatedAt() int64 { return s.UpdatedAt }

// MaxProgress keeps whichever copy has more accumulated progress, falling
// back to last-writer-wins on a tie. Progress only ever grows, so the larger
// value is always the fresher one even when clocks disagree.
func MaxProgress(local, remote Skill) Skill {
	if remote.Progress > local.Progress {
		return remote
	}
	if local.Progress > remote.Progress {
		return local
	}
	return LastWriterWins(local, remote)
}

type skillsSnapshot struct {
	Items []Skill `json:"items"`
}

// Skills is the skill domain store.
type Skills struct {
	col   *Collection[Skill]
	write WriteFunc
	now   func() int64
}

// NewSkills constructs the store with the progress-based reconcile tiebreak.
func NewSkills(write WriteFunc, nowMillis func() int64) *Skills {
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	return &Skills{
		col:   NewCollection[Skill](MaxProgress),
		write: write,
		now:   nowMillis,
	}
}

// Items returns the skills in display order.
func (s *Skills) Items() []Skill { return s.col.Items() }

// Loading reports whether the first remote snapshot is still pending.
func (s *Skills) Loading() bool { return s.col.Loading() }

// Add creates a skill and schedules a sync.
func (s *Skills) Add(name string) Skill {
	sk := Skill{ID: uuid.NewString(), Name: name, UpdatedAt: s.now()}
	items := s.col.Mutate(func(items []Skill) []Skill {
		return append(items, sk)
	})
	s.scheduleWrite(items)
	return sk
}

// AddProgress accumulates practiced hours on a skill and schedules a sync.
func (s *Skills) AddProgress(id string, hours float64) {
	items := s.col.Mutate(func(items []Skill) []Skill {
		for i := range items {
			if items[i].ID == id {
				items[i].Progress += hours
				items[i].UpdatedAt = s.now()
			}
		}
		return items
	})
	s.scheduleWrite(items)
}

func (s *Skills) scheduleWrite(items []Skill) {
	s.write(SkillsKey, skillsSnapshot{Items: items})
}

// ApplyRemoteSnapshot hydrates the store from a remote envelope value.
func (s *Skills) ApplyRemoteSnapshot(value json.RawMessage) {
	if value == nil {
		s.col.Hydrate(nil, false)
		return
	}
	var snap skillsSnapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		log.Warn().Err(err).Str("key", SkillsKey).Msg("store: undecodable remote snapshot ignored")
		s.col.Hydrate(nil, false)
		return
	}
	s.col.Hydrate(snap.Items, true)
}
