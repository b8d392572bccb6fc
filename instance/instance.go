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

// Package instance hosts the ordinary clock: it owns the instance-wide
// datasets, the ports and the shared timer queue, and runs the BMCA.
// Everything happens on one event loop; HandleMessage and Tick must be
// called from a single goroutine.
package instance

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockwerk-io/ptpd/bmc"
	"github.com/clockwerk-io/ptpd/clock"
	"github.com/clockwerk-io/ptpd/datasets"
	"github.com/clockwerk-io/ptpd/network"
	"github.com/clockwerk-io/ptpd/port"
	ptp "github.com/clockwerk-io/ptpd/protocol"
	"github.com/clockwerk-io/ptpd/servo"
	"github.com/clockwerk-io/ptpd/stats"
)

// how long a Faulty port waits before the transport is reopened
const faultyRetryBackoff = 5 * time.Second

// Opener reopens the transport of a Faulty port
type Opener func() (network.Port, error)

type portEntry struct {
	port     *port.Port
	net      network.Port
	opener   Opener
	faultyAt time.Time
}

// Instance is a PTP ordinary clock
type Instance struct {
	defaultDS datasets.DefaultDS
	currentDS datasets.CurrentDS
	parentDS  datasets.ParentDS
	timeProps datasets.TimePropertiesDS
	clk       clock.Clock
	st        *stats.Stats
	timers    *port.TimerQueue
	ports     []*portEntry
	nextBMCA  time.Time
}

// New creates an Instance around the given DefaultDS
func New(defaultDS datasets.DefaultDS, clk clock.Clock, st *stats.Stats) *Instance {
	if st == nil {
		st = stats.NewStats()
	}
	defaultDS.NumberPorts = 0
	return &Instance{
		defaultDS: defaultDS,
		parentDS:  datasets.NewParentDS(&defaultDS),
		timeProps: datasets.NewTimePropertiesDS(),
		clk:       clk,
		st:        st,
		timers:    port.NewTimerQueue(),
	}
}

// AddPort attaches a port to the instance. The opener is used to reopen
// the transport when the port goes Faulty; it may be nil for tests.
func (i *Instance) AddPort(pds datasets.PortDS, netPort network.Port, opener Opener) (*port.Port, error) {
	if pds.DelayMechanism != datasets.DelayMechanismE2E {
		return nil, fmt.Errorf("delay mechanism %s is not implemented", pds.DelayMechanism)
	}
	i.defaultDS.NumberPorts++
	pds.PortIdentity = ptp.PortIdentity{
		ClockIdentity: i.defaultDS.ClockIdentity,
		PortNumber:    i.defaultDS.NumberPorts,
	}

	pi := servo.NewPiServo(servo.DefaultServoConfig(), servo.DefaultPiServoCfg(), 0)
	pi.FirstUpdate = true
	if maxFreq, err := i.clk.MaxFreqPPB(); err == nil && maxFreq > 0 {
		pi.SetMaxFreq(maxFreq)
	}
	pi.SyncInterval(pds.SyncInterval().Seconds())

	p := port.New(&port.Config{
		PortDS:         pds,
		DefaultDS:      &i.defaultDS,
		Parent:         &i.parentDS,
		Current:        &i.currentDS,
		TimeProperties: &i.timeProps,
		Clock:          i.clk,
		Net:            netPort,
		Timers:         i.timers,
		Servo:          pi,
	})
	i.ports = append(i.ports, &portEntry{port: p, net: netPort, opener: opener})
	return p, nil
}

// Port returns the port at idx
func (i *Instance) Port(idx int) *port.Port {
	return i.ports[idx].port
}

// Start moves all ports to Listening and schedules the first BMCA run
func (i *Instance) Start(now time.Time) {
	for _, e := range i.ports {
		e.port.Start()
	}
	i.nextBMCA = now
}

// HandleMessage dispatches one received payload to the port it arrived on.
// Codec and protocol errors never escape: the packet is dropped and counted.
func (i *Instance) HandleMessage(portIdx int, data []byte, ingress time.Time) {
	if portIdx < 0 || portIdx >= len(i.ports) {
		return
	}
	e := i.ports[portIdx]
	switch e.port.State() {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return
	}

	hdr := &ptp.Header{}
	if err := hdr.UnmarshalBinary(data); err != nil {
		log.Debugf("port %d: dropping packet: %v", e.port.Number(), err)
		i.st.IncRXDropped("codec")
		return
	}
	// domain-wide filtering happens before the state machine
	if hdr.DomainNumber != i.defaultDS.DomainNumber {
		i.st.IncRXDropped("domain")
		return
	}
	if hdr.Version&ptp.MajorVersionMask != ptp.MajorVersion {
		i.st.IncRXDropped("version")
		return
	}

	pkt, err := ptp.DecodePacket(data)
	if err != nil {
		log.Debugf("port %d: dropping packet: %v", e.port.Number(), err)
		i.st.IncRXDropped("codec")
		return
	}
	i.st.IncRX(pkt.MessageType())

	now := i.clk.Now()
	switch msg := pkt.(type) {
	case *ptp.Announce:
		e.port.HandleAnnounce(msg, now)
	case *ptp.SyncDelayReq:
		if msg.MessageType() == ptp.MessageSync {
			e.port.HandleSync(msg, ingress, now)
		} else if err := e.port.HandleDelayReq(msg, ingress, now); err != nil {
			i.fault(e, err)
		}
	case *ptp.FollowUp:
		e.port.HandleFollowUp(msg, now)
	case *ptp.DelayResp:
		e.port.HandleDelayResp(msg, now)
		i.st.SetSyncState(float64(i.currentDS.OffsetFromMaster), float64(i.currentDS.MeanDelay))
	default:
		// pdelay and friends decode but carry no behavior here
		i.st.IncRXDropped("unhandled")
	}

	if e.port.TakeBMCARequest() {
		i.runBMCA(now)
	}
}

// Tick advances timers and runs the BMCA when due. The caller should
// invoke it at NextWake, or sooner after delivering messages.
func (i *Instance) Tick(now time.Time) {
	i.retryFaulty(now)

	for _, d := range i.timers.PopDue(now) {
		idx := int(d.Port) - 1
		if idx < 0 || idx >= len(i.ports) {
			continue
		}
		e := i.ports[idx]
		if err := e.port.HandleTimer(d, now); err != nil {
			i.fault(e, err)
		}
	}

	needBMCA := !now.Before(i.nextBMCA)
	for _, e := range i.ports {
		if e.port.TakeBMCARequest() {
			needBMCA = true
		}
	}
	if needBMCA {
		i.runBMCA(now)
	}
}

// NextWake returns when Tick wants to run next
func (i *Instance) NextWake() time.Time {
	next := i.nextBMCA
	if t, ok := i.timers.Next(); ok && t.Before(next) {
		next = t
	}
	return next
}

func (i *Instance) runBMCA(now time.Time) {
	i.st.IncBMCARuns()

	erbests := make([]*ptp.Announce, len(i.ports))
	for idx, e := range i.ports {
		switch e.port.State() {
		case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
			continue
		}
		erbests[idx] = e.port.Erbest(now)
	}
	ebest := bmc.Ebest(erbests)

	for idx, e := range i.ports {
		switch e.port.State() {
		case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
			continue
		}
		rec := bmc.RecommendPort(&i.defaultDS, erbests[idx], ebest)
		switch rec.Decision {
		case bmc.DecisionS1:
			i.adoptParent(rec.Announce)
		case bmc.DecisionM1, bmc.DecisionM2, bmc.DecisionM3:
			i.becomeOwnGrandmaster()
		}
		if err := e.port.ApplyRecommendation(rec, now); err != nil {
			i.fault(e, err)
		}
		i.st.SetPortState(strconv.Itoa(int(e.port.Number())), e.port.State())
	}

	i.scheduleNextBMCA(now)
}

// adoptParent is the S1 update: the only place outside initialization
// where ParentDS and TimePropertiesDS are written
func (i *Instance) adoptParent(a *ptp.Announce) {
	i.parentDS = datasets.ParentDS{
		ParentPortIdentity:      a.Header.SourcePortIdentity,
		GrandmasterIdentity:     a.GrandmasterIdentity,
		GrandmasterClockQuality: a.GrandmasterClockQuality,
		GrandmasterPriority1:    a.GrandmasterPriority1,
		GrandmasterPriority2:    a.GrandmasterPriority2,
	}
	i.timeProps.UpdateFromAnnounce(a)
	i.currentDS.StepsRemoved = a.StepsRemoved + 1
}

func (i *Instance) becomeOwnGrandmaster() {
	if i.parentDS.GrandmasterIdentity == i.defaultDS.ClockIdentity {
		return
	}
	i.parentDS = datasets.NewParentDS(&i.defaultDS)
	i.timeProps = datasets.NewTimePropertiesDS()
	i.currentDS.StepsRemoved = 0
}

func (i *Instance) scheduleNextBMCA(now time.Time) {
	// cadence follows the shortest announce interval across ports
	interval := time.Duration(0)
	for _, e := range i.ports {
		ds := e.port.DS()
		ai := ds.AnnounceInterval()
		if interval == 0 || ai < interval {
			interval = ai
		}
	}
	if interval == 0 {
		interval = 2 * time.Second
	}
	i.nextBMCA = now.Add(interval)
}

// FaultPort reports a transport failure detected outside the instance,
// e.g. by the socket reader feeding the event loop
func (i *Instance) FaultPort(idx int, err error) {
	if idx < 0 || idx >= len(i.ports) {
		return
	}
	if i.ports[idx].port.State() == ptp.PortStateFaulty {
		return
	}
	i.fault(i.ports[idx], err)
}

// fault isolates a broken port, the rest of the instance keeps running
func (i *Instance) fault(e *portEntry, err error) {
	log.Errorf("port %d: transport fault: %v", e.port.Number(), err)
	e.port.SetFaulty()
	e.faultyAt = i.clk.Now()
	i.st.SetPortState(strconv.Itoa(int(e.port.Number())), e.port.State())
	if e.net != nil {
		e.net.Close()
		e.net = nil
	}
}

func (i *Instance) retryFaulty(now time.Time) {
	for _, e := range i.ports {
		if e.port.State() != ptp.PortStateFaulty || e.opener == nil {
			continue
		}
		if now.Sub(e.faultyAt) < faultyRetryBackoff {
			continue
		}
		n, err := e.opener()
		if err != nil {
			log.Warningf("port %d: reopen failed: %v", e.port.Number(), err)
			e.faultyAt = now
			continue
		}
		e.net = n
		e.port.SetNetwork(n)
		e.port.Start()
		log.Infof("port %d: transport reopened", e.port.Number())
	}
}
