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

package port

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clockwerk-io/ptpd/bmc"
	"github.com/clockwerk-io/ptpd/clock"
	"github.com/clockwerk-io/ptpd/datasets"
	"github.com/clockwerk-io/ptpd/network"
	ptp "github.com/clockwerk-io/ptpd/protocol"
	"github.com/clockwerk-io/ptpd/servo"
)

const (
	remoteID ptp.ClockIdentity = 0x0c42a1fffe6d7ca6
	localID  ptp.ClockIdentity = 0x1c1b0d4a38e2ff0e
)

// fakeNet records sent packets and hands out canned egress timestamps
type fakeNet struct {
	general [][]byte
	event   [][]byte
	egress  time.Time
}

func (f *fakeNet) Send(b []byte) error {
	c := make([]byte, len(b))
	copy(c, b)
	f.general = append(f.general, c)
	return nil
}

func (f *fakeNet) SendTimeCritical(b []byte) (time.Time, error) {
	c := make([]byte, len(b))
	copy(c, b)
	f.event = append(f.event, c)
	return f.egress, nil
}

func (f *fakeNet) Recv() (*network.Packet, error) { return nil, net.ErrClosed }
func (f *fakeNet) Close() error                   { return nil }

type testEnv struct {
	port    *Port
	net     *fakeNet
	clk     *clock.FakeClock
	timers  *TimerQueue
	current *datasets.CurrentDS
	parent  *datasets.ParentDS
}

func newTestEnv(t *testing.T, def *datasets.DefaultDS) *testEnv {
	t.Helper()
	fn := &fakeNet{}
	fc := clock.NewFakeClock(time.Unix(1653142200, 0))
	timers := NewTimerQueue()
	current := &datasets.CurrentDS{}
	parent := datasets.NewParentDS(def)
	timeProps := datasets.NewTimePropertiesDS()

	pi := servo.NewPiServo(servo.DefaultServoConfig(), servo.DefaultPiServoCfg(), 0)
	pds := datasets.NewPortDS(ptp.PortIdentity{ClockIdentity: def.ClockIdentity, PortNumber: 1})
	p := New(&Config{
		PortDS:         pds,
		DefaultDS:      def,
		Parent:         &parent,
		Current:        current,
		TimeProperties: &timeProps,
		Clock:          fc,
		Net:            fn,
		Timers:         timers,
		Servo:          pi,
	})
	p.Start()
	require.Equal(t, ptp.PortStateListening, p.State())
	return &testEnv{port: p, net: fn, clk: fc, timers: timers, current: current, parent: &parent}
}

func localClock() *datasets.DefaultDS {
	return &datasets.DefaultDS{
		TwoStepFlag:   true,
		ClockIdentity: localID,
		ClockQuality:  ptp.ClockQuality{ClockClass: ptp.ClockClassDefault, ClockAccuracy: ptp.ClockAccuracyUnknown},
		Priority1:     128,
		Priority2:     128,
	}
}

func masterAnnounce(seq uint16) *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageAnnounce, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeAnnounce,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         seq,
			LogMessageInterval: 1,
		},
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1: 128,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:    ptp.ClockClass6,
				ClockAccuracy: ptp.ClockAccuracyNanosecond100,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  remoteID,
			StepsRemoved:         0,
			TimeSource:           ptp.TimeSourceGNSS,
		},
	}
}

func popTimer(t *testing.T, env *testEnv, kind TimerKind, until time.Time) Deadline {
	t.Helper()
	for _, d := range env.timers.PopDue(until) {
		if d.Kind == kind {
			return d
		}
	}
	t.Fatalf("no %s deadline armed before %v", kind, until)
	return Deadline{}
}

func enslave(t *testing.T, env *testEnv, now time.Time) {
	t.Helper()
	ann := masterAnnounce(0)
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{
		Decision: bmc.DecisionS1,
		Announce: ann,
	}, now))
	require.Equal(t, ptp.PortStateSlave, env.port.State())
}

func TestPortSlaveSyncRound(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	// delay 500ns each way, slave 200ns behind the master
	delta := 500 * time.Nanosecond
	offset := -200 * time.Nanosecond
	t1 := base.Add(1000 * time.Nanosecond)
	t2 := base.Add(1000 * time.Nanosecond).Add(delta).Add(offset)
	t3 := base.Add(2000 * time.Nanosecond).Add(offset)
	t4 := base.Add(2000 * time.Nanosecond).Add(delta)

	// two-step sync from the parent
	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			FlagField:          ptp.FlagTwoStep,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         17,
		},
	}
	env.port.HandleSync(sync, t2, base)

	followUp := &ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeFollowUp,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         17,
		},
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(t1)},
	}
	env.port.HandleFollowUp(followUp, base)

	// delay request goes out when its timer pops
	env.net.egress = t3
	d := popTimer(t, env, TimerDelayReqSend, base.Add(2*time.Second))
	require.NoError(t, env.port.HandleTimer(d, d.When))
	require.Len(t, env.net.event, 1)

	sent, err := ptp.DecodePacket(env.net.event[0])
	require.NoError(t, err)
	req := sent.(*ptp.SyncDelayReq)
	assert.Equal(t, ptp.MessageDelayReq, req.MessageType())
	assert.Equal(t, localID, req.SourcePortIdentity.ClockIdentity)

	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeDelayResp,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         req.SequenceID,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(t4),
			RequestingPortIdentity: ptp.PortIdentity{ClockIdentity: localID, PortNumber: 1},
		},
	}
	env.port.HandleDelayResp(resp, base.Add(3*time.Second))

	assert.Equal(t, int64(-200), env.current.OffsetFromMaster)
	assert.Equal(t, int64(500), env.current.MeanDelay)
	// a fresh delay request timer is armed for the next round
	popTimer(t, env, TimerDelayReqSend, base.Add(10*time.Second))
}

func TestPortSlaveOneStepSync(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	t1 := base.Add(1000 * time.Nanosecond)
	t2 := t1.Add(300 * time.Nanosecond)
	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         3,
		},
		SyncDelayReqBody: ptp.SyncDelayReqBody{OriginTimestamp: ptp.NewTimestamp(t1)},
	}
	// no twoStep flag: T1 comes straight from the sync
	env.port.HandleSync(sync, t2, base)

	env.net.egress = base.Add(time.Millisecond)
	d := popTimer(t, env, TimerDelayReqSend, base.Add(2*time.Second))
	require.NoError(t, env.port.HandleTimer(d, d.When))

	resp := &ptp.DelayResp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayResp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeDelayResp,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         0,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(base.Add(time.Millisecond).Add(300 * time.Nanosecond)),
			RequestingPortIdentity: ptp.PortIdentity{ClockIdentity: localID, PortNumber: 1},
		},
	}
	env.port.HandleDelayResp(resp, base.Add(time.Second))

	assert.Equal(t, int64(300), env.current.MeanDelay)
	assert.Equal(t, int64(0), env.current.OffsetFromMaster)
}

func TestPortSlaveIgnoresStrangers(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	stranger := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageSync, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			FlagField:          ptp.FlagTwoStep,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: 0xdead, PortNumber: 1},
			SequenceID:         1,
		},
	}
	env.port.HandleSync(stranger, base.Add(time.Millisecond), base)
	// a follow-up without a prior matching sync changes nothing either
	orphan := &ptp.FollowUp{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageFollowUp, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeFollowUp,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 1},
			SequenceID:         99,
		},
	}
	env.port.HandleFollowUp(orphan, base)
	assert.Equal(t, int64(0), env.current.OffsetFromMaster)
}

func TestPortAnnounceReceiptTimeout(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	// parent goes silent, default timeout is 3 x 2s
	d := popTimer(t, env, TimerAnnounceReceipt, base.Add(6*time.Second))
	assert.Equal(t, base.Add(6*time.Second), d.When)
	require.NoError(t, env.port.HandleTimer(d, d.When))
	assert.Equal(t, ptp.PortStateListening, env.port.State())
	assert.True(t, env.port.TakeBMCARequest())
	// the parent's stale record cannot be re-elected
	assert.Nil(t, env.port.Erbest(d.When))
}

func TestPortAnnounceFromParentRearmsTimeout(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	// announce from the parent pushes the receipt deadline out
	env.port.HandleAnnounce(masterAnnounce(1), base.Add(2*time.Second))

	d := popTimer(t, env, TimerAnnounceReceipt, base.Add(6*time.Second))
	// the original deadline is stale now
	require.NoError(t, env.port.HandleTimer(d, d.When))
	assert.Equal(t, ptp.PortStateSlave, env.port.State())
}

func TestPortMasterEmitsAnnounceAndSync(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	env.net.egress = base.Add(time.Microsecond)

	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{Decision: bmc.DecisionM1}, base))
	require.Equal(t, ptp.PortStateMaster, env.port.State())

	// announce and follow-up on the general socket, sync on the event socket
	require.Len(t, env.net.event, 1)
	require.Len(t, env.net.general, 2)

	sent, err := ptp.DecodePacket(env.net.general[0])
	require.NoError(t, err)
	ann := sent.(*ptp.Announce)
	assert.Equal(t, localID, ann.GrandmasterIdentity)
	assert.Equal(t, uint16(0), ann.StepsRemoved)
	assert.Equal(t, uint16(0), ann.SequenceID)

	sent, err = ptp.DecodePacket(env.net.event[0])
	require.NoError(t, err)
	sync := sent.(*ptp.SyncDelayReq)
	assert.Equal(t, ptp.MessageSync, sync.MessageType())
	assert.NotZero(t, sync.FlagField&ptp.FlagTwoStep)
	assert.True(t, sync.OriginTimestamp.Empty())

	sent, err = ptp.DecodePacket(env.net.general[1])
	require.NoError(t, err)
	fu := sent.(*ptp.FollowUp)
	assert.Equal(t, sync.SequenceID, fu.SequenceID)
	assert.Equal(t, env.net.egress.Unix(), fu.PreciseOriginTimestamp.Time().Unix())

	// periodic timers fire and sequence numbers advance
	d := popTimer(t, env, TimerAnnounceSend, base.Add(2*time.Second))
	require.NoError(t, env.port.HandleTimer(d, d.When))
	sent, err = ptp.DecodePacket(env.net.general[2])
	require.NoError(t, err)
	assert.Equal(t, uint16(1), sent.(*ptp.Announce).SequenceID)
}

func TestPortMasterAnswersDelayReq(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	env.net.egress = base
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{Decision: bmc.DecisionM1}, base))
	env.net.general = nil

	ingress := base.Add(123456 * time.Nanosecond)
	req := &ptp.SyncDelayReq{
		Header: ptp.Header{
			SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageDelayReq, 0),
			Version:            ptp.Version,
			MessageLength:      ptp.SizeSyncDelayReq,
			SourcePortIdentity: ptp.PortIdentity{ClockIdentity: remoteID, PortNumber: 9},
			SequenceID:         333,
			CorrectionField:    ptp.NewCorrection(1.5),
		},
	}
	require.NoError(t, env.port.HandleDelayReq(req, ingress, base))

	require.Len(t, env.net.general, 1)
	sent, err := ptp.DecodePacket(env.net.general[0])
	require.NoError(t, err)
	resp := sent.(*ptp.DelayResp)
	assert.Equal(t, uint16(333), resp.SequenceID)
	assert.Equal(t, req.Header.SourcePortIdentity, resp.RequestingPortIdentity)
	assert.Equal(t, ingress, resp.ReceiveTimestamp.Time())
	assert.Equal(t, req.CorrectionField, resp.CorrectionField)
}

func TestPortReslaveOnlyOnNewParent(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)

	// same parent again is a no-op
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{
		Decision: bmc.DecisionS1,
		Announce: masterAnnounce(1),
	}, base.Add(time.Second)))
	assert.Equal(t, ptp.PortStateSlave, env.port.State())

	// a different parent replaces the whole slave payload
	other := masterAnnounce(0)
	other.Header.SourcePortIdentity.ClockIdentity = 0xfeed
	other.GrandmasterIdentity = 0xfeed
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{
		Decision: bmc.DecisionS1,
		Announce: other,
	}, base.Add(2*time.Second)))
	assert.Equal(t, ptp.PortStateSlave, env.port.State())
}

func TestPortDisableEnable(t *testing.T) {
	env := newTestEnv(t, localClock())
	env.port.Disable()
	assert.Equal(t, ptp.PortStateDisabled, env.port.State())

	// BMCA cannot move a disabled port
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{Decision: bmc.DecisionM1}, env.clk.Now()))
	assert.Equal(t, ptp.PortStateDisabled, env.port.State())

	env.port.Enable()
	assert.Equal(t, ptp.PortStateListening, env.port.State())
}

func TestPortStaleTimerIgnored(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)
	// deadlines armed for the slave state
	stale := popTimer(t, env, TimerAnnounceReceipt, base.Add(6*time.Second))

	// leaving slave invalidates them by epoch
	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{Decision: bmc.DecisionP1}, base))
	require.Equal(t, ptp.PortStatePassive, env.port.State())

	require.NoError(t, env.port.HandleTimer(stale, stale.When))
	assert.Equal(t, ptp.PortStatePassive, env.port.State())
}

func TestCurrentDSResetOnLeavingSlave(t *testing.T) {
	env := newTestEnv(t, localClock())
	base := env.clk.Now()
	enslave(t, env, base)
	env.current.OffsetFromMaster = 4242
	env.current.MeanDelay = 100

	require.NoError(t, env.port.ApplyRecommendation(bmc.RecommendedState{Decision: bmc.DecisionM1}, base))
	assert.Equal(t, int64(0), env.current.OffsetFromMaster)
	assert.Equal(t, int64(0), env.current.MeanDelay)
}
