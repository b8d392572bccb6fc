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

// Package port implements the per-port PTP state machine: it consumes
// announce/sync/follow-up/delay messages and timer pops, and produces
// outbound messages and clock corrections. All methods are called from
// the single event loop of the owning instance, never concurrently.
package port

import (
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clockwerk-io/ptpd/bmc"
	"github.com/clockwerk-io/ptpd/clock"
	"github.com/clockwerk-io/ptpd/datasets"
	"github.com/clockwerk-io/ptpd/network"
	ptp "github.com/clockwerk-io/ptpd/protocol"
	"github.com/clockwerk-io/ptpd/servo"
)

// Config wires a Port into its instance
type Config struct {
	PortDS         datasets.PortDS
	DefaultDS      *datasets.DefaultDS
	Parent         *datasets.ParentDS
	Current        *datasets.CurrentDS
	TimeProperties *datasets.TimePropertiesDS
	Clock          clock.Clock
	Net            network.Port
	Timers         *TimerQueue
	Servo          *servo.PiServo
}

// Port is one PTP port of an ordinary clock
type Port struct {
	ds        datasets.PortDS
	defaultDS *datasets.DefaultDS
	parent    *datasets.ParentDS
	current   *datasets.CurrentDS
	timeProps *datasets.TimePropertiesDS
	clk       clock.Clock
	net       network.Port
	timers    *TimerQueue
	filter    *servo.Filter
	pi        *servo.PiServo
	foreign   *bmc.ForeignMasterTable

	master *masterState
	slave  *slaveState

	epochs [numTimerKinds]uint64
	txBuf  [128]byte

	// set when an event makes a BMCA run worthwhile before the next
	// cadence tick; the instance reads and clears it
	bmcaRequested bool
}

// New creates a Port in the Initializing state
func New(cfg *Config) *Port {
	return &Port{
		ds:        cfg.PortDS,
		defaultDS: cfg.DefaultDS,
		parent:    cfg.Parent,
		current:   cfg.Current,
		timeProps: cfg.TimeProperties,
		clk:       cfg.Clock,
		net:       cfg.Net,
		timers:    cfg.Timers,
		filter:    servo.NewFilter(),
		pi:        cfg.Servo,
		foreign:   bmc.NewForeignMasterTable(0),
	}
}

// DS returns a copy of the port dataset
func (p *Port) DS() datasets.PortDS {
	return p.ds
}

// State returns the current port state
func (p *Port) State() ptp.PortState {
	return p.ds.PortState
}

// Number returns the 1-based port number
func (p *Port) Number() uint16 {
	return p.ds.PortIdentity.PortNumber
}

// Start moves the port from Initializing to Listening,
// called once the network port is open
func (p *Port) Start() {
	if p.ds.PortState != ptp.PortStateInitializing && p.ds.PortState != ptp.PortStateFaulty {
		return
	}
	p.setState(ptp.PortStateListening)
}

// SetNetwork replaces the transport after the instance reopened it
func (p *Port) SetNetwork(n network.Port) {
	p.net = n
}

// TakeBMCARequest reads and clears the port's demand for an early BMCA run
func (p *Port) TakeBMCARequest() bool {
	r := p.bmcaRequested
	p.bmcaRequested = false
	return r
}

// Erbest returns the port's best qualified foreign master, nil when none
func (p *Port) Erbest(now time.Time) *ptp.Announce {
	window := bmc.ForeignMasterTimeWindowFactor * p.ds.AnnounceInterval()
	p.foreign.Prune(window, now)
	return p.foreign.Erbest(window, now)
}

// SetFaulty forces the port into the Faulty state, used by the instance
// when the transport fails
func (p *Port) SetFaulty() {
	p.setState(ptp.PortStateFaulty)
}

// Disable forces the port into the Disabled state
func (p *Port) Disable() {
	p.ds.PortEnable = false
	p.setState(ptp.PortStateDisabled)
}

// Enable re-arms a Disabled port into Listening
func (p *Port) Enable() {
	p.ds.PortEnable = true
	if p.ds.PortState == ptp.PortStateDisabled {
		p.setState(ptp.PortStateListening)
	}
}

// setState replaces the whole state payload. Calling it with the current
// state still tears everything down, that's how a reslave to a different
// parent drops the old timers and exchanges.
func (p *Port) setState(state ptp.PortState) {
	if p.ds.PortState != state {
		log.Infof("port %d: new state %s -> %s", p.Number(), p.ds.PortState, state)
	}
	if p.ds.PortState == ptp.PortStateSlave {
		p.filter.Reset()
		if state != ptp.PortStateSlave {
			// synchronization results are meaningless outside of Slave
			p.current.Reset()
		}
	}
	for kind := TimerKind(0); kind < numTimerKinds; kind++ {
		p.cancel(kind)
	}
	p.master = nil
	p.slave = nil
	p.ds.PortState = state
}

func (p *Port) arm(kind TimerKind, when time.Time) {
	p.timers.Schedule(Deadline{
		When:  when,
		Port:  p.Number(),
		Kind:  kind,
		Epoch: p.epochs[kind],
	})
}

func (p *Port) cancel(kind TimerKind) {
	p.epochs[kind]++
}

func (p *Port) delayReqDelay() time.Duration {
	span := 2 * p.ds.MinDelayReqInterval()
	if span <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(span)))
}

// ApplyRecommendation executes one BMCA state decision on the port
func (p *Port) ApplyRecommendation(rec bmc.RecommendedState, now time.Time) error {
	switch p.ds.PortState {
	case ptp.PortStateInitializing, ptp.PortStateFaulty:
		return fmt.Errorf("BMCA may not transition port %d out of %s", p.Number(), p.ds.PortState)
	case ptp.PortStateDisabled:
		return nil
	}

	switch rec.Decision {
	case bmc.DecisionNone:
		return nil
	case bmc.DecisionS1:
		remote := rec.Announce.Header.SourcePortIdentity
		if p.ds.PortState == ptp.PortStateSlave && p.slave != nil {
			if p.slave.parent.Compare(remote) == 0 {
				return nil
			}
		}
		p.enterSlave(remote, now)
	case bmc.DecisionM1, bmc.DecisionM2, bmc.DecisionM3:
		if p.ds.PortState == ptp.PortStateMaster {
			return nil
		}
		return p.enterMaster(now)
	case bmc.DecisionP1, bmc.DecisionP2:
		if p.ds.PortState == ptp.PortStatePassive {
			return nil
		}
		p.setState(ptp.PortStatePassive)
	}
	return nil
}

func (p *Port) enterSlave(remote ptp.PortIdentity, now time.Time) {
	p.setState(ptp.PortStateSlave)
	p.slave = &slaveState{parent: remote}
	p.arm(TimerAnnounceReceipt, now.Add(p.ds.AnnounceReceiptInterval()))
	p.arm(TimerDelayReqSend, now.Add(p.delayReqDelay()))
	log.Infof("port %d: slave of %s", p.Number(), remote)
}

func (p *Port) enterMaster(now time.Time) error {
	p.setState(ptp.PortStateMaster)
	p.master = &masterState{}
	// first announce and sync go out right away
	if err := p.sendAnnounce(); err != nil {
		return err
	}
	if err := p.sendSync(); err != nil {
		return err
	}
	p.arm(TimerAnnounceSend, now.Add(p.ds.AnnounceInterval()))
	p.arm(TimerSyncSend, now.Add(p.ds.SyncInterval()))
	return nil
}

// HandleTimer executes a popped deadline. Stale epochs are dropped.
func (p *Port) HandleTimer(d Deadline, now time.Time) error {
	if d.Epoch != p.epochs[d.Kind] {
		return nil
	}
	switch d.Kind {
	case TimerAnnounceSend:
		if p.master == nil {
			return nil
		}
		if err := p.sendAnnounce(); err != nil {
			return err
		}
		p.arm(TimerAnnounceSend, now.Add(p.ds.AnnounceInterval()))
	case TimerSyncSend:
		if p.master == nil {
			return nil
		}
		if err := p.sendSync(); err != nil {
			return err
		}
		p.arm(TimerSyncSend, now.Add(p.ds.SyncInterval()))
	case TimerAnnounceReceipt:
		if p.slave == nil {
			return nil
		}
		log.Warningf("port %d: no announce from parent %s for %s", p.Number(), p.slave.parent, p.ds.AnnounceReceiptInterval())
		p.foreign.Remove(p.slave.parent)
		p.setState(ptp.PortStateListening)
		p.bmcaRequested = true
	case TimerDelayReqSend:
		if p.slave == nil {
			return nil
		}
		return p.sendDelayReq()
	}
	return nil
}

// HandleAnnounce records the announce for BMCA. In Slave it also feeds
// the announce-receipt timeout of the parent.
func (p *Port) HandleAnnounce(a *ptp.Announce, now time.Time) {
	switch p.ds.PortState {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return
	}
	if a.Header.SourcePortIdentity.ClockIdentity == p.defaultDS.ClockIdentity {
		// our own multicast looped back
		return
	}
	p.foreign.Update(a, now)
	window := bmc.ForeignMasterTimeWindowFactor * p.ds.AnnounceInterval()
	if p.foreign.Erbest(window, now) != nil {
		p.bmcaRequested = true
	}
	if p.slave != nil && p.slave.parent.Compare(a.Header.SourcePortIdentity) == 0 {
		p.cancel(TimerAnnounceReceipt)
		p.arm(TimerAnnounceReceipt, now.Add(p.ds.AnnounceReceiptInterval()))
	}
}

// HandleSync captures T2 in the Slave state, ignored elsewhere
func (p *Port) HandleSync(s *ptp.SyncDelayReq, ingress time.Time, now time.Time) {
	if p.slave == nil {
		return
	}
	if p.slave.parent.Compare(s.Header.SourcePortIdentity) != 0 {
		return
	}
	if ingress.IsZero() {
		log.Warningf("port %d: sync without ingress timestamp", p.Number())
		return
	}
	ex := &syncExchange{
		seq:        s.SequenceID,
		t2:         ingress,
		correction: s.CorrectionField.Duration(),
	}
	if s.FlagField&ptp.FlagTwoStep != 0 {
		ex.waitFollowUp = true
	} else {
		ex.t1 = s.OriginTimestamp.Time().Add(ex.correction)
	}
	p.slave.sync = ex
	p.pi.SyncInterval(s.LogMessageInterval.Duration().Seconds())
	if ex.complete() {
		p.completeSync(ex)
	}
}

// HandleFollowUp resolves T1 of a pending two-step Sync
func (p *Port) HandleFollowUp(f *ptp.FollowUp, now time.Time) {
	if p.slave == nil || p.slave.sync == nil {
		return
	}
	if p.slave.parent.Compare(f.Header.SourcePortIdentity) != 0 {
		return
	}
	ex := p.slave.sync
	if !ex.waitFollowUp || ex.seq != f.SequenceID {
		log.Debugf("port %d: follow_up seq=%d doesn't match pending sync", p.Number(), f.SequenceID)
		return
	}
	ex.t1 = f.PreciseOriginTimestamp.Time().Add(ex.correction + f.CorrectionField.Duration())
	ex.waitFollowUp = false
	p.completeSync(ex)
}

func (p *Port) completeSync(ex *syncExchange) {
	p.slave.lastT1 = ex.t1
	p.slave.lastT2 = ex.t2
	p.slave.sync = nil
}

// HandleDelayReq answers with a DelayResp carrying the ingress timestamp,
// Master only
func (p *Port) HandleDelayReq(r *ptp.SyncDelayReq, ingress time.Time, now time.Time) error {
	if p.master == nil {
		return nil
	}
	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeDelayResp,
			DomainNumber:       p.defaultDS.DomainNumber,
			CorrectionField:    r.CorrectionField,
			SourcePortIdentity: p.ds.PortIdentity,
			SequenceID:         r.SequenceID,
			ControlField:       ptp.MessageDelayResp.ControlField(),
			LogMessageInterval: p.ds.LogMinDelayReqInterval,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(ingress),
			RequestingPortIdentity: r.Header.SourcePortIdentity,
		},
	}
	n, err := resp.MarshalBinaryTo(p.txBuf[:])
	if err != nil {
		return err
	}
	return p.net.Send(p.txBuf[:n])
}

// HandleDelayResp closes the delay exchange and runs the filter, Slave only
func (p *Port) HandleDelayResp(r *ptp.DelayResp, now time.Time) {
	if p.slave == nil || p.slave.delay == nil {
		return
	}
	if r.RequestingPortIdentity.Compare(p.ds.PortIdentity) != 0 {
		return
	}
	if r.SequenceID != p.slave.delay.seq {
		log.Debugf("port %d: delay_resp seq=%d doesn't match pending %d", p.Number(), r.SequenceID, p.slave.delay.seq)
		return
	}
	if p.slave.lastT1.IsZero() || p.slave.lastT2.IsZero() {
		// no complete sync pair yet, wait for the next round
		p.rearmDelayReq(now)
		return
	}
	t3 := p.slave.delay.t3
	// the correction field of DelayResp accumulates the residence time of
	// the DelayReq, it is taken out of the slave-to-master leg
	t4 := r.ReceiveTimestamp.Time().Add(-r.CorrectionField.Duration())
	p.slave.delay = nil

	m, err := p.filter.Compute(p.slave.lastT1, p.slave.lastT2, t3, t4, p.ds.DelayAsymmetry)
	if err == nil {
		p.adjustClock(m)
	}
	p.rearmDelayReq(now)
}

func (p *Port) rearmDelayReq(now time.Time) {
	p.cancel(TimerDelayReqSend)
	p.arm(TimerDelayReqSend, now.Add(p.delayReqDelay()))
}

func (p *Port) adjustClock(m *servo.Measurement) {
	p.current.OffsetFromMaster = m.Offset.Nanoseconds()
	p.current.MeanDelay = m.MeanPathDelay.Nanoseconds()
	p.ds.MeanLinkDelay = m.MeanPathDelay

	freqAdj, state := p.pi.Sample(int64(m.Offset), uint64(m.Timestamp.UnixNano()))
	log.Infof("port %d: offset %10d servo %s freq %+7.0f path delay %10d",
		p.Number(), m.Offset.Nanoseconds(), state, -freqAdj, m.MeanPathDelay.Nanoseconds())
	switch state {
	case servo.StateJump:
		if err := p.clk.Step(-m.Offset); err != nil {
			log.Errorf("port %d: failed to step clock by %v: %v", p.Number(), -m.Offset, err)
		}
		p.filter.Reset()
	case servo.StateLocked:
		if err := p.clk.AdjFreqPPB(-freqAdj); err != nil {
			log.Errorf("port %d: failed to adjust freq to %v: %v", p.Number(), -freqAdj, err)
		}
	}
}

func (p *Port) sendDelayReq() error {
	req := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayReq, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			DomainNumber:       p.defaultDS.DomainNumber,
			SourcePortIdentity: p.ds.PortIdentity,
			SequenceID:         p.slave.delayReqSeq,
			ControlField:       ptp.MessageDelayReq.ControlField(),
			LogMessageInterval: 0x7f,
		},
	}
	n, err := req.MarshalBinaryTo(p.txBuf[:])
	if err != nil {
		return err
	}
	t3, err := p.net.SendTimeCritical(p.txBuf[:n])
	if err != nil {
		return err
	}
	p.slave.delay = &delayExchange{seq: p.slave.delayReqSeq, t3: t3}
	p.slave.delayReqSeq++
	return nil
}

func (p *Port) sendAnnounce() error {
	var utcOffset int16
	if p.timeProps.CurrentUTCOffset != nil {
		utcOffset = *p.timeProps.CurrentUTCOffset
	}
	a := &ptp.Announce{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeAnnounce,
			DomainNumber:       p.defaultDS.DomainNumber,
			FlagField:          p.timeProps.FlagField(),
			SourcePortIdentity: p.ds.PortIdentity,
			SequenceID:         p.master.announceSeq,
			ControlField:       ptp.MessageAnnounce.ControlField(),
			LogMessageInterval: p.ds.LogAnnounceInterval,
		},
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        utcOffset,
			GrandmasterPriority1:    p.parent.GrandmasterPriority1,
			GrandmasterClockQuality: p.parent.GrandmasterClockQuality,
			GrandmasterPriority2:    p.parent.GrandmasterPriority2,
			GrandmasterIdentity:     p.parent.GrandmasterIdentity,
			StepsRemoved:            p.current.StepsRemoved,
			TimeSource:              p.timeProps.TimeSource,
		},
	}
	n, err := a.MarshalBinaryTo(p.txBuf[:])
	if err != nil {
		return err
	}
	if err := p.net.Send(p.txBuf[:n]); err != nil {
		return err
	}
	p.master.announceSeq++
	return nil
}

func (p *Port) sendSync() error {
	flags := uint16(0)
	if p.defaultDS.TwoStepFlag {
		flags |= ptp.FlagTwoStep
	}
	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			DomainNumber:       p.defaultDS.DomainNumber,
			FlagField:          flags,
			SourcePortIdentity: p.ds.PortIdentity,
			SequenceID:         p.master.syncSeq,
			ControlField:       ptp.MessageSync.ControlField(),
			LogMessageInterval: p.ds.LogSyncInterval,
		},
	}
	if !p.defaultDS.TwoStepFlag {
		sync.OriginTimestamp = ptp.NewTimestamp(p.clk.Now())
	}
	n, err := sync.MarshalBinaryTo(p.txBuf[:])
	if err != nil {
		return err
	}
	egress, err := p.net.SendTimeCritical(p.txBuf[:n])
	if err != nil {
		return err
	}
	if p.defaultDS.TwoStepFlag {
		followUp := &ptp.FollowUp{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
				Version:            ptp.Version,
				MessageLength:      ptp.SizeFollowUp,
				DomainNumber:       p.defaultDS.DomainNumber,
				SourcePortIdentity: p.ds.PortIdentity,
				SequenceID:         p.master.syncSeq,
				ControlField:       ptp.MessageFollowUp.ControlField(),
				LogMessageInterval: p.ds.LogSyncInterval,
			},
			FollowUpBody: ptp.FollowUpBody{
				PreciseOriginTimestamp: ptp.NewTimestamp(egress),
			},
		}
		n, err := followUp.MarshalBinaryTo(p.txBuf[:])
		if err != nil {
			return err
		}
		if err := p.net.Send(p.txBuf[:n]); err != nil {
			return err
		}
	}
	p.master.syncSeq++
	return nil
}
