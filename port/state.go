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
	"time"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// masterState is the payload a port carries while it is Master:
// independent sequence counters for each outgoing message type
type masterState struct {
	announceSeq uint16
	syncSeq     uint16
}

// syncExchange tracks one Sync (and its FollowUp in the two-step case)
type syncExchange struct {
	seq          uint16
	t1           time.Time
	t2           time.Time
	correction   time.Duration
	waitFollowUp bool
}

func (e *syncExchange) complete() bool {
	return !e.t1.IsZero() && !e.t2.IsZero() && !e.waitFollowUp
}

// delayExchange tracks one in-flight DelayReq
type delayExchange struct {
	seq uint16
	t3  time.Time
}

// slaveState is the payload a port carries while it is Slave:
// the identity of the elected parent and the timestamps of in-flight
// exchanges
type slaveState struct {
	parent      ptp.PortIdentity
	delayReqSeq uint16
	sync        *syncExchange
	delay       *delayExchange
	// latest completed sync pair, inputs T1/T2 for the filter
	lastT1 time.Time
	lastT2 time.Time
}
