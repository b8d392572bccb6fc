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

// Package datasets holds the IEEE 1588-2019 section 8 data sets of an
// ordinary clock. These are plain records; all update rules live with
// their single writer (the BMCA or the port state machine).
package datasets

import (
	"time"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// DelayMechanism is the propagation delay measuring option, Table 21
type DelayMechanism uint8

// Table 21 delayMechanism enumeration
const (
	DelayMechanismE2E         DelayMechanism = 0x01
	DelayMechanismP2P         DelayMechanism = 0x02
	DelayMechanismCommonP2P   DelayMechanism = 0x03
	DelayMechanismSpecial     DelayMechanism = 0x04
	DelayMechanismNoMechanism DelayMechanism = 0xFE
)

func (d DelayMechanism) String() string {
	switch d {
	case DelayMechanismE2E:
		return "E2E"
	case DelayMechanismP2P:
		return "P2P"
	case DelayMechanismCommonP2P:
		return "COMMON_P2P"
	case DelayMechanismSpecial:
		return "SPECIAL"
	case DelayMechanismNoMechanism:
		return "NONE"
	}
	return "UNKNOWN"
}

// DefaultDS describes the clock itself, section 8.2.1.
// Immutable after init except through management, which we don't implement.
type DefaultDS struct {
	TwoStepFlag   bool              `json:"two_step_flag"`
	ClockIdentity ptp.ClockIdentity `json:"clock_identity"`
	NumberPorts   uint16            `json:"number_ports"`
	ClockQuality  ptp.ClockQuality  `json:"clock_quality"`
	Priority1     uint8             `json:"priority1"`
	Priority2     uint8             `json:"priority2"`
	DomainNumber  uint8             `json:"domain_number"`
	SlaveOnly     bool              `json:"slave_only"`
}

// CurrentDS carries the live synchronization results, section 8.2.2
type CurrentDS struct {
	StepsRemoved     uint16 `json:"steps_removed"`
	OffsetFromMaster int64  `json:"offset_from_master"` // nanoseconds
	MeanDelay        int64  `json:"mean_delay"`         // nanoseconds
}

// Reset zeroes the dataset, used when a port leaves the Slave state
func (c *CurrentDS) Reset() {
	*c = CurrentDS{}
}

// ParentDS describes the parent and grandmaster, section 8.2.3
type ParentDS struct {
	ParentPortIdentity      ptp.PortIdentity  `json:"parent_port_identity"`
	GrandmasterIdentity     ptp.ClockIdentity `json:"grandmaster_identity"`
	GrandmasterClockQuality ptp.ClockQuality  `json:"grandmaster_clock_quality"`
	GrandmasterPriority1    uint8             `json:"grandmaster_priority1"`
	GrandmasterPriority2    uint8             `json:"grandmaster_priority2"`
}

// NewParentDS returns a ParentDS claiming the clock is its own grandmaster
func NewParentDS(defaultDS *DefaultDS) ParentDS {
	return ParentDS{
		ParentPortIdentity: ptp.PortIdentity{
			ClockIdentity: defaultDS.ClockIdentity,
		},
		GrandmasterIdentity:     defaultDS.ClockIdentity,
		GrandmasterClockQuality: defaultDS.ClockQuality,
		GrandmasterPriority1:    defaultDS.Priority1,
		GrandmasterPriority2:    defaultDS.Priority2,
	}
}

// TimePropertiesDS describes the timescale of the grandmaster, section 8.2.4
type TimePropertiesDS struct {
	CurrentUTCOffset         *int16         `json:"current_utc_offset"`
	Leap59                   bool           `json:"leap59"`
	Leap61                   bool           `json:"leap61"`
	TimeTraceable            bool           `json:"time_traceable"`
	FrequencyTraceable       bool           `json:"frequency_traceable"`
	PTPTimescale             bool           `json:"ptp_timescale"`
	TimeSource               ptp.TimeSource `json:"time_source"`
	SynchronizationUncertain bool           `json:"synchronization_uncertain"`
}

// NewTimePropertiesDS returns the dataset in its pre-parent state
func NewTimePropertiesDS() TimePropertiesDS {
	return TimePropertiesDS{
		PTPTimescale: true,
		TimeSource:   ptp.TimeSourceInternalOscillator,
	}
}

// UpdateFromAnnounce mirrors the corresponding fields of the best Announce,
// called only by the BMCA on the S1 update
func (t *TimePropertiesDS) UpdateFromAnnounce(a *ptp.Announce) {
	if a.FlagField&ptp.FlagCurrentUtcOffsetValid != 0 {
		off := a.CurrentUTCOffset
		t.CurrentUTCOffset = &off
	} else {
		t.CurrentUTCOffset = nil
	}
	t.Leap59 = a.FlagField&ptp.FlagLeap59 != 0
	t.Leap61 = a.FlagField&ptp.FlagLeap61 != 0
	t.TimeTraceable = a.FlagField&ptp.FlagTimeTraceable != 0
	t.FrequencyTraceable = a.FlagField&ptp.FlagFrequencyTraceable != 0
	t.PTPTimescale = a.FlagField&ptp.FlagPTPTimescale != 0
	t.SynchronizationUncertain = a.FlagField&ptp.FlagSynchronizationUncertain != 0
	t.TimeSource = a.TimeSource
}

// FlagField renders the dataset back into announce header flags
func (t *TimePropertiesDS) FlagField() uint16 {
	var f uint16
	if t.CurrentUTCOffset != nil {
		f |= ptp.FlagCurrentUtcOffsetValid
	}
	if t.Leap59 {
		f |= ptp.FlagLeap59
	}
	if t.Leap61 {
		f |= ptp.FlagLeap61
	}
	if t.TimeTraceable {
		f |= ptp.FlagTimeTraceable
	}
	if t.FrequencyTraceable {
		f |= ptp.FlagFrequencyTraceable
	}
	if t.PTPTimescale {
		f |= ptp.FlagPTPTimescale
	}
	if t.SynchronizationUncertain {
		f |= ptp.FlagSynchronizationUncertain
	}
	return f
}

// PortDS describes one port of the clock, section 8.2.15
type PortDS struct {
	PortIdentity            ptp.PortIdentity `json:"port_identity"`
	PortState               ptp.PortState    `json:"port_state"`
	LogMinDelayReqInterval  ptp.LogInterval  `json:"log_min_delay_req_interval"`
	MeanLinkDelay           time.Duration    `json:"mean_link_delay"`
	LogAnnounceInterval     ptp.LogInterval  `json:"log_announce_interval"`
	AnnounceReceiptTimeout  uint8            `json:"announce_receipt_timeout"`
	LogSyncInterval         ptp.LogInterval  `json:"log_sync_interval"`
	DelayMechanism          DelayMechanism   `json:"delay_mechanism"`
	LogMinPdelayReqInterval ptp.LogInterval  `json:"log_min_pdelay_req_interval"`
	VersionNumber           uint8            `json:"version_number"`
	MinorVersionNumber      uint8            `json:"minor_version_number"`
	DelayAsymmetry          time.Duration    `json:"delay_asymmetry"`
	PortEnable              bool             `json:"port_enable"`
	MasterOnly              bool             `json:"master_only"`
}

// NewPortDS returns a PortDS with the defaults of the default profile
func NewPortDS(identity ptp.PortIdentity) PortDS {
	return PortDS{
		PortIdentity:            identity,
		PortState:               ptp.PortStateInitializing,
		LogMinDelayReqInterval:  0,
		LogAnnounceInterval:     1,
		AnnounceReceiptTimeout:  3,
		LogSyncInterval:         0,
		DelayMechanism:          DelayMechanismE2E,
		LogMinPdelayReqInterval: 0,
		VersionNumber:           ptp.MajorVersion,
		MinorVersionNumber:      ptp.MinorVersion,
		PortEnable:              true,
	}
}

// MinDelayReqInterval is the shortest period between DelayReq messages
func (p *PortDS) MinDelayReqInterval() time.Duration {
	return p.LogMinDelayReqInterval.Duration()
}

// AnnounceInterval is the period between Announce messages
func (p *PortDS) AnnounceInterval() time.Duration {
	return p.LogAnnounceInterval.Duration()
}

// SyncInterval is the period between Sync messages
func (p *PortDS) SyncInterval() time.Duration {
	return p.LogSyncInterval.Duration()
}

// AnnounceReceiptInterval is for how long a slave waits for an Announce from
// its parent before it declares it gone
func (p *PortDS) AnnounceReceiptInterval() time.Duration {
	return time.Duration(p.AnnounceReceiptTimeout) * p.AnnounceInterval()
}
