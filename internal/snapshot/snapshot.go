// Package snapshot defines the shared broadcast configuration record: the
// destinations with their fixed-interval jobs, the time-of-day schedule
// entries, and the two master switches. The record round-trips through the
// store as a single JSON document.
package snapshot

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("destination not found")
	ErrExists        = errors.New("destination already added")
	ErrDuplicateTime = errors.New("schedule entry with this time already exists")
	ErrBadIndex      = errors.New("schedule entry index out of range")
)

// DelayJob is one destination's fixed-interval broadcast configuration.
// Payload fields are flattened into the same JSON object.
type DelayJob struct {
	Payload
	DelaySeconds int `json:"delay"`
}

// ScheduleEntry is one time-of-day-triggered payload for a destination.
type ScheduleEntry struct {
	// Time is a 24-hour wall-clock value, "HH:MM:SS".
	Time string `json:"time"`
	Payload
	// LastFiredDate suppresses re-firing the entry until the calendar
	// date changes. Format "2006-01-02"; empty means never fired.
	LastFiredDate string `json:"last_sent_date,omitempty"`
}

// Snapshot is the whole shared record.
type Snapshot struct {
	Destinations map[string]DelayJob        `json:"chats"`
	Scheduled    map[string][]ScheduleEntry `json:"scheduled"`

	DelayActive    bool `json:"active"`
	ScheduleActive bool `json:"schedule_active"`

	// Version is an optimistic-concurrency token bumped by the store on every
	// save. A save against a stale version is rejected with a conflict.
	Version uint64 `json:"version,omitempty"`
}

// Empty returns a usable zero snapshot with initialized maps.
func Empty() Snapshot {
	return Snapshot{
		Destinations: map[string]DelayJob{},
		Scheduled:    map[string][]ScheduleEntry{},
	}
}

// Normalize initializes nil maps after decoding.
func (s *Snapshot) Normalize() {
	if s.Destinations == nil {
		s.Destinations = map[string]DelayJob{}
	}
	if s.Scheduled == nil {
		s.Scheduled = map[string][]ScheduleEntry{}
	}
}

func (s Snapshot) Clone() Snapshot {
	out := s
	out.Destinations = make(map[string]DelayJob, len(s.Destinations))
	for k, v := range s.Destinations {
		v.Payload = v.Payload.Clone()
		out.Destinations[k] = v
	}
	out.Scheduled = make(map[string][]ScheduleEntry, len(s.Scheduled))
	for k, list := range s.Scheduled {
		cp := make([]ScheduleEntry, len(list))
		for i, e := range list {
			e.Payload = e.Payload.Clone()
			cp[i] = e
		}
		out.Scheduled[k] = cp
	}
	return out
}

// MinDelay returns the shortest configured delay across all destinations,
// floored to min and falling back to fallback when no destinations exist.
// Destinations with empty payloads still participate.
func (s Snapshot) MinDelay(fallback, floor time.Duration) time.Duration {
	if len(s.Destinations) == 0 {
		return fallback
	}
	best := time.Duration(-1)
	for _, job := range s.Destinations {
		d := time.Duration(job.DelaySeconds) * time.Second
		if best < 0 || d < best {
			best = d
		}
	}
	if best < floor {
		return floor
	}
	return best
}

// MediaRefs returns every media reference currently held by any job or entry.
func (s Snapshot) MediaRefs() map[string]struct{} {
	refs := map[string]struct{}{}
	for _, job := range s.Destinations {
		if job.Media != "" {
			refs[job.Media] = struct{}{}
		}
	}
	for _, list := range s.Scheduled {
		for _, e := range list {
			if e.Media != "" {
				refs[e.Media] = struct{}{}
			}
		}
	}
	return refs
}

func (s *Snapshot) AddDestination(id string) error {
	s.Normalize()
	if _, ok := s.Destinations[id]; ok {
		return ErrExists
	}
	s.Destinations[id] = DelayJob{DelaySeconds: 60}
	return nil
}

// RemoveDestination drops the destination's DelayJob and every schedule entry
// in one mutation. It returns the media references the destination held;
// the caller decides which blobs are exclusively owned and can be deleted.
func (s *Snapshot) RemoveDestination(id string) ([]string, error) {
	s.Normalize()
	job, okJob := s.Destinations[id]
	entries, okSched := s.Scheduled[id]
	if !okJob && !okSched {
		return nil, ErrNotFound
	}
	var media []string
	if okJob {
		if job.Media != "" {
			media = append(media, job.Media)
		}
		delete(s.Destinations, id)
	}
	if okSched {
		for _, e := range entries {
			if e.Media != "" {
				media = append(media, e.Media)
			}
		}
		delete(s.Scheduled, id)
	}
	return media, nil
}

// SetDelayPayload replaces the destination's payload. Switching shapes drops
// the stale shape's fields; the replaced media reference (if any, and if it
// changed) is returned so the caller can release the blob.
func (s *Snapshot) SetDelayPayload(id string, p Payload) (string, error) {
	s.Normalize()
	job, ok := s.Destinations[id]
	if !ok {
		return "", ErrNotFound
	}
	old := job.Media
	job.Payload = p.Clone()
	s.Destinations[id] = job
	if old != "" && old != p.Media {
		return old, nil
	}
	return "", nil
}

func (s *Snapshot) SetDelaySeconds(id string, seconds int) error {
	s.Normalize()
	job, ok := s.Destinations[id]
	if !ok {
		return ErrNotFound
	}
	if seconds < 0 {
		seconds = 0
	}
	job.DelaySeconds = seconds
	s.Destinations[id] = job
	return nil
}

// AddScheduleEntry appends an entry for the destination. A second entry at an
// identical time-of-day is rejected at write time.
func (s *Snapshot) AddScheduleEntry(id, timeOfDay string, p Payload) error {
	s.Normalize()
	if _, err := ParseTimeOfDay(timeOfDay); err != nil {
		return err
	}
	for _, e := range s.Scheduled[id] {
		if e.Time == timeOfDay {
			return ErrDuplicateTime
		}
	}
	s.Scheduled[id] = append(s.Scheduled[id], ScheduleEntry{Time: timeOfDay, Payload: p.Clone()})
	return nil
}

// EditScheduleEntry updates an entry in place. Nil arguments keep the previous
// value. Changing the time clears the fired mark so the entry is eligible at
// its new time. Returns the replaced media reference, if any.
func (s *Snapshot) EditScheduleEntry(id string, index int, newTime *string, newPayload *Payload) (string, error) {
	s.Normalize()
	entries, ok := s.Scheduled[id]
	if !ok {
		return "", ErrNotFound
	}
	if index < 0 || index >= len(entries) {
		return "", ErrBadIndex
	}
	e := entries[index]

	if newTime != nil && *newTime != e.Time {
		if _, err := ParseTimeOfDay(*newTime); err != nil {
			return "", err
		}
		for i, other := range entries {
			if i != index && other.Time == *newTime {
				return "", ErrDuplicateTime
			}
		}
		e.Time = *newTime
		e.LastFiredDate = ""
	}

	var replaced string
	if newPayload != nil {
		if e.Media != "" && e.Media != newPayload.Media {
			replaced = e.Media
		}
		e.Payload = newPayload.Clone()
	}

	entries[index] = e
	s.Scheduled[id] = entries
	return replaced, nil
}

// RemoveScheduleEntry deletes one entry and returns its media reference.
func (s *Snapshot) RemoveScheduleEntry(id string, index int) (string, error) {
	s.Normalize()
	entries, ok := s.Scheduled[id]
	if !ok {
		return "", ErrNotFound
	}
	if index < 0 || index >= len(entries) {
		return "", ErrBadIndex
	}
	media := entries[index].Media
	entries = append(entries[:index], entries[index+1:]...)
	if len(entries) == 0 {
		delete(s.Scheduled, id)
	} else {
		s.Scheduled[id] = entries
	}
	return media, nil
}

// MarkFired records that the entry fired on the given date.
func (s *Snapshot) MarkFired(id string, index int, date string) error {
	s.Normalize()
	entries, ok := s.Scheduled[id]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(entries) {
		return ErrBadIndex
	}
	entries[index].LastFiredDate = date
	return nil
}
