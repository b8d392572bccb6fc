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

package servo

import (
	"errors"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
)

// Sample validation errors. All of them mean the exchange is discarded,
// none of them ever reaches the instance.
var (
	ErrMonotonicity  = errors.New("timestamps violate monotonicity")
	ErrNegativeDelay = errors.New("negative path delay")
	ErrSpike         = errors.New("offset spike")
)

const (
	// how many accepted samples before dispersion gating kicks in
	filterWarmup = 4
	// accepted offsets further than this many stddevs from the mean are spikes
	filterStdevFactor = 5.0
	// floor under the stddev gate so a perfectly quiet network doesn't
	// reject the first microsecond of real movement
	filterMinGate = time.Microsecond

	warnInterval = 30 * time.Second
)

// Measurement is one accepted (T1..T4) exchange converted to clock terms
type Measurement struct {
	Offset        time.Duration
	MeanPathDelay time.Duration
	Timestamp     time.Time // T2, ingress time of the Sync
}

// Filter validates raw timestamp exchanges and produces measurements.
// Once filterWarmup samples have been accepted, an offset outside the
// dispersion gate is discarded before it reaches the servo; the first
// filterWarmup samples are not gated.
type Filter struct {
	offsets  *welford.Stats
	accepted int
	lastWarn time.Time
}

// NewFilter creates an empty filter
func NewFilter() *Filter {
	return &Filter{offsets: welford.New()}
}

// Reset drops accumulated statistics, used when the port changes parent
func (f *Filter) Reset() {
	f.offsets = welford.New()
	f.accepted = 0
}

func (f *Filter) warn(format string, v ...interface{}) {
	now := time.Now()
	if now.Sub(f.lastWarn) < warnInterval {
		return
	}
	f.lastWarn = now
	log.Warningf(format, v...)
}

// Compute turns one (T1,T2,T3,T4) exchange into offset and mean path delay:
//
//	meanPathDelay = ((T2-T1) + (T4-T3))/2 - delayAsymmetry
//	offsetFromMaster = (T2-T1) - meanPathDelay
func (f *Filter) Compute(t1, t2, t3, t4 time.Time, delayAsymmetry time.Duration) (*Measurement, error) {
	if !t1.Before(t2) || !t3.Before(t4) {
		f.warn("discarding sample: timestamps not monotonic (T1=%v T2=%v T3=%v T4=%v)", t1, t2, t3, t4)
		return nil, ErrMonotonicity
	}
	masterToSlave := t2.Sub(t1)
	slaveToMaster := t4.Sub(t3)
	delay := (masterToSlave+slaveToMaster)/2 - delayAsymmetry
	if delay < 0 {
		f.warn("discarding sample: negative path delay %v", delay)
		return nil, ErrNegativeDelay
	}
	offset := masterToSlave - delay

	if f.isSpike(offset) {
		f.warn("discarding sample: offset %v looks like a spike", offset)
		return nil, ErrSpike
	}
	f.offsets.Add(float64(offset))
	f.accepted++

	return &Measurement{
		Offset:        offset,
		MeanPathDelay: delay,
		Timestamp:     t2,
	}, nil
}

func (f *Filter) isSpike(offset time.Duration) bool {
	if f.accepted < filterWarmup {
		return false
	}
	gate := time.Duration(filterStdevFactor * f.offsets.Stddev())
	if gate < filterMinGate {
		gate = filterMinGate
	}
	diff := offset - time.Duration(f.offsets.Mean())
	if diff < 0 {
		diff = -diff
	}
	return diff > gate
}
