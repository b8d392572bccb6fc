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

package datasets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

func TestPortDSIntervals(t *testing.T) {
	ds := NewPortDS(ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	// default profile: logAnnounceInterval 1, timeout 3
	assert.Equal(t, 2*time.Second, ds.AnnounceInterval())
	assert.Equal(t, 6*time.Second, ds.AnnounceReceiptInterval())
	assert.Equal(t, time.Second, ds.SyncInterval())
	assert.Equal(t, time.Second, ds.MinDelayReqInterval())

	ds.LogAnnounceInterval = 0
	ds.AnnounceReceiptTimeout = 2
	assert.Equal(t, 2*time.Second, ds.AnnounceReceiptInterval())
}

func TestCurrentDSReset(t *testing.T) {
	c := CurrentDS{StepsRemoved: 2, OffsetFromMaster: 100, MeanDelay: 50}
	c.Reset()
	assert.Equal(t, CurrentDS{}, c)
}

func TestNewParentDSIsOwnGrandmaster(t *testing.T) {
	def := &DefaultDS{
		ClockIdentity: 0xabcdef,
		ClockQuality:  ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		Priority1:     128,
		Priority2:     129,
	}
	p := NewParentDS(def)
	assert.Equal(t, def.ClockIdentity, p.GrandmasterIdentity)
	assert.Equal(t, def.ClockIdentity, p.ParentPortIdentity.ClockIdentity)
	assert.Equal(t, def.ClockQuality, p.GrandmasterClockQuality)
	assert.Equal(t, uint8(128), p.GrandmasterPriority1)
	assert.Equal(t, uint8(129), p.GrandmasterPriority2)
}

func TestTimePropertiesFromAnnounce(t *testing.T) {
	a := &ptp.Announce{}
	a.FlagField = ptp.FlagCurrentUtcOffsetValid | ptp.FlagLeap59 | ptp.FlagPTPTimescale | ptp.FlagTimeTraceable
	a.CurrentUTCOffset = 37
	a.TimeSource = ptp.TimeSourceGNSS

	tp := NewTimePropertiesDS()
	tp.UpdateFromAnnounce(a)

	require.NotNil(t, tp.CurrentUTCOffset)
	assert.Equal(t, int16(37), *tp.CurrentUTCOffset)
	assert.True(t, tp.Leap59)
	assert.False(t, tp.Leap61)
	assert.True(t, tp.TimeTraceable)
	assert.False(t, tp.FrequencyTraceable)
	assert.True(t, tp.PTPTimescale)
	assert.Equal(t, ptp.TimeSourceGNSS, tp.TimeSource)

	// rendering back produces the same flags
	assert.Equal(t, a.FlagField, tp.FlagField())

	// offset invalid clears the option
	a.FlagField = ptp.FlagPTPTimescale
	tp.UpdateFromAnnounce(a)
	assert.Nil(t, tp.CurrentUTCOffset)
}

func TestDelayMechanismString(t *testing.T) {
	assert.Equal(t, "E2E", DelayMechanismE2E.String())
	assert.Equal(t, "P2P", DelayMechanismP2P.String())
	assert.Equal(t, "UNKNOWN", DelayMechanism(0x42).String())
}
