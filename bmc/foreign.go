/*
Copyright (c) Clockwerk.io and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bmc

import (
	"time"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// FOREIGN_MASTER_TIME_WINDOW is 4 announce intervals,
// FOREIGN_MASTER_THRESHOLD is 2 Announce messages, section 9.3.2.4.4
const (
	ForeignMasterTimeWindowFactor = 4
	ForeignMasterThreshold        = 2
)

// DefaultForeignTableSize is how many foreign masters a port tracks,
// the standard requires capacity for at least 5
const DefaultForeignTableSize = 8

type timedAnnounce struct {
	announce *ptp.Announce
	received time.Time
}

// ForeignMasterRecord tracks announces from a single remote port
type ForeignMasterRecord struct {
	SourcePortIdentity ptp.PortIdentity
	// most recent announces, newest last, at most ForeignMasterThreshold kept
	announces []timedAnnounce
	lastSeen  time.Time
}

// Latest returns the most recent Announce of the record
func (r *ForeignMasterRecord) Latest() *ptp.Announce {
	if len(r.announces) == 0 {
		return nil
	}
	return r.announces[len(r.announces)-1].announce
}

// qualified reports whether the record has seen enough consistent announces
// within the window ending at now
func (r *ForeignMasterRecord) qualified(window time.Duration, now time.Time) bool {
	cutoff := now.Add(-window)
	count := 0
	var gm ptp.ClockIdentity
	for _, ta := range r.announces {
		if ta.received.Before(cutoff) {
			continue
		}
		if count == 0 {
			gm = ta.announce.GrandmasterIdentity
		} else if ta.announce.GrandmasterIdentity != gm {
			return false
		}
		count++
	}
	return count >= ForeignMasterThreshold
}

// ForeignMasterTable is the per-port table of foreign master records,
// bounded in size with oldest-seen eviction when full
type ForeignMasterTable struct {
	capacity int
	records  map[ptp.PortIdentity]*ForeignMasterRecord
}

// NewForeignMasterTable creates a table with the given capacity,
// DefaultForeignTableSize if capacity is not positive
func NewForeignMasterTable(capacity int) *ForeignMasterTable {
	if capacity <= 0 {
		capacity = DefaultForeignTableSize
	}
	return &ForeignMasterTable{
		capacity: capacity,
		records:  map[ptp.PortIdentity]*ForeignMasterRecord{},
	}
}

// Update records an Announce arrival. Returns the record the announce landed in.
func (t *ForeignMasterTable) Update(a *ptp.Announce, now time.Time) *ForeignMasterRecord {
	key := a.Header.SourcePortIdentity
	r, ok := t.records[key]
	if !ok {
		if len(t.records) >= t.capacity {
			t.evictOldest()
		}
		r = &ForeignMasterRecord{SourcePortIdentity: key}
		t.records[key] = r
	}
	r.announces = append(r.announces, timedAnnounce{announce: a, received: now})
	if len(r.announces) > ForeignMasterThreshold {
		r.announces = r.announces[len(r.announces)-ForeignMasterThreshold:]
	}
	r.lastSeen = now
	return r
}

func (t *ForeignMasterTable) evictOldest() {
	var oldest *ForeignMasterRecord
	for _, r := range t.records {
		if oldest == nil || r.lastSeen.Before(oldest.lastSeen) {
			oldest = r
		}
	}
	if oldest != nil {
		delete(t.records, oldest.SourcePortIdentity)
	}
}

// Prune drops records not seen within the window ending at now
func (t *ForeignMasterTable) Prune(window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	for key, r := range t.records {
		if r.lastSeen.Before(cutoff) {
			delete(t.records, key)
		}
	}
}

// Remove drops the record of the given remote port, used when a parent
// times out so it cannot be re-elected from stale announces
func (t *ForeignMasterTable) Remove(id ptp.PortIdentity) {
	delete(t.records, id)
}

// Len returns the number of tracked records
func (t *ForeignMasterTable) Len() int {
	return len(t.records)
}

// Qualified returns the latest Announce of each qualified record
func (t *ForeignMasterTable) Qualified(window time.Duration, now time.Time) []*ptp.Announce {
	var out []*ptp.Announce
	for _, r := range t.records {
		if r.qualified(window, now) {
			out = append(out, r.Latest())
		}
	}
	return out
}

// Erbest returns the best qualified foreign master of the port, nil when none
func (t *ForeignMasterTable) Erbest(window time.Duration, now time.Time) *ptp.Announce {
	qualified := t.Qualified(window, now)
	if len(qualified) == 0 {
		return nil
	}
	best := qualified[0]
	for _, msg := range qualified[1:] {
		if Dscmp(best, msg) < 0 {
			best = msg
		}
	}
	return best
}
