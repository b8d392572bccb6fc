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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

func TestForeignMasterQualification(t *testing.T) {
	table := NewForeignMasterTable(0)
	t0 := time.Unix(1653142200, 0)
	window := 4 * time.Second // 4 x 1s announce interval

	a := announceFrom(0xA, ptp.AnnounceBody{GrandmasterIdentity: 0xA})

	// one announce is not enough
	table.Update(a, t0)
	assert.Nil(t, table.Erbest(window, t0))

	// second announce within the window qualifies the entry
	table.Update(a, t0.Add(time.Second))
	got := table.Erbest(window, t0.Add(time.Second))
	require.NotNil(t, got)
	assert.Equal(t, ptp.ClockIdentity(0xA), got.GrandmasterIdentity)
}

func TestForeignMasterGrandmasterChange(t *testing.T) {
	table := NewForeignMasterTable(0)
	t0 := time.Unix(1653142200, 0)
	window := 4 * time.Second

	// same sender flip-flopping between grandmasters never qualifies
	table.Update(announceFrom(0xA, ptp.AnnounceBody{GrandmasterIdentity: 1}), t0)
	table.Update(announceFrom(0xA, ptp.AnnounceBody{GrandmasterIdentity: 2}), t0.Add(time.Second))
	assert.Nil(t, table.Erbest(window, t0.Add(time.Second)))
}

func TestForeignMasterPruning(t *testing.T) {
	table := NewForeignMasterTable(0)
	t0 := time.Unix(1653142200, 0)
	window := 4 * time.Second

	a := announceFrom(0xA, ptp.AnnounceBody{GrandmasterIdentity: 0xA})
	table.Update(a, t0.Add(-time.Second))
	table.Update(a, t0)
	require.NotNil(t, table.Erbest(window, t0))

	// 4.001s after the last announce the entry must not be a candidate
	later := t0.Add(4001 * time.Millisecond)
	table.Prune(window, later)
	assert.Nil(t, table.Erbest(window, later))
	assert.Equal(t, 0, table.Len())
}

func TestForeignMasterEviction(t *testing.T) {
	table := NewForeignMasterTable(2)
	t0 := time.Unix(1653142200, 0)

	table.Update(announceFrom(1, ptp.AnnounceBody{GrandmasterIdentity: 1}), t0)
	table.Update(announceFrom(2, ptp.AnnounceBody{GrandmasterIdentity: 2}), t0.Add(time.Second))
	table.Update(announceFrom(3, ptp.AnnounceBody{GrandmasterIdentity: 3}), t0.Add(2*time.Second))

	// oldest-seen record was evicted to make room
	assert.Equal(t, 2, table.Len())
	table.Update(announceFrom(1, ptp.AnnounceBody{GrandmasterIdentity: 1}), t0.Add(3*time.Second))
	assert.Equal(t, 2, table.Len())
}

func TestForeignMasterErbestPicksBest(t *testing.T) {
	table := NewForeignMasterTable(0)
	t0 := time.Unix(1653142200, 0)
	window := 4 * time.Second

	good := announceFrom(1, ptp.AnnounceBody{
		GrandmasterIdentity:     1,
		GrandmasterPriority1:    10,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6},
	})
	worse := announceFrom(2, ptp.AnnounceBody{
		GrandmasterIdentity:     2,
		GrandmasterPriority1:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
	})
	for _, ts := range []time.Time{t0, t0.Add(time.Second)} {
		table.Update(good, ts)
		table.Update(worse, ts)
	}
	got := table.Erbest(window, t0.Add(time.Second))
	require.NotNil(t, got)
	assert.Equal(t, ptp.ClockIdentity(1), got.GrandmasterIdentity)
}
