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

	"github.com/stretchr/testify/assert"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

func announceFrom(clockID ptp.ClockIdentity, body ptp.AnnounceBody) *ptp.Announce {
	a := &ptp.Announce{}
	a.Header.SourcePortIdentity = ptp.PortIdentity{ClockIdentity: clockID, PortNumber: 1}
	a.AnnounceBody = body
	return a
}

func TestDscmpPriority1(t *testing.T) {
	a := announceFrom(1, ptp.AnnounceBody{GrandmasterPriority1: 1, GrandmasterIdentity: 1})
	b := announceFrom(2, ptp.AnnounceBody{GrandmasterPriority1: 2, GrandmasterIdentity: 2})
	assert.Equal(t, ABetter, Dscmp(a, b))
	assert.Equal(t, BBetter, Dscmp(b, a))
}

func TestDscmpClockQuality(t *testing.T) {
	a := announceFrom(1, ptp.AnnounceBody{
		GrandmasterPriority1:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6},
		GrandmasterIdentity:     1,
	})
	b := announceFrom(2, ptp.AnnounceBody{
		GrandmasterPriority1:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClassDefault},
		GrandmasterIdentity:     2,
	})
	assert.Equal(t, ABetter, Dscmp(a, b))

	// equal class, accuracy breaks the tie
	b.GrandmasterClockQuality.ClockClass = ptp.ClockClass6
	a.GrandmasterClockQuality.ClockAccuracy = ptp.ClockAccuracyNanosecond100
	b.GrandmasterClockQuality.ClockAccuracy = ptp.ClockAccuracyMicrosecond1
	assert.Equal(t, ABetter, Dscmp(a, b))

	// equal accuracy, variance breaks the tie
	b.GrandmasterClockQuality.ClockAccuracy = ptp.ClockAccuracyNanosecond100
	a.GrandmasterClockQuality.OffsetScaledLogVariance = 100
	b.GrandmasterClockQuality.OffsetScaledLogVariance = 200
	assert.Equal(t, ABetter, Dscmp(a, b))
}

func TestDscmpIdentityTieBreak(t *testing.T) {
	a := announceFrom(1, ptp.AnnounceBody{GrandmasterPriority1: 128, GrandmasterIdentity: 0x10})
	b := announceFrom(2, ptp.AnnounceBody{GrandmasterPriority1: 128, GrandmasterIdentity: 0x20})
	assert.Equal(t, ABetter, Dscmp(a, b))
	assert.Equal(t, BBetter, Dscmp(b, a))
}

func TestDscmpSameGrandmasterTopology(t *testing.T) {
	// same grandmaster, far enough apart in steps that fewer hops wins
	a := announceFrom(5, ptp.AnnounceBody{GrandmasterIdentity: 1, StepsRemoved: 1})
	b := announceFrom(6, ptp.AnnounceBody{GrandmasterIdentity: 1, StepsRemoved: 3})
	assert.Equal(t, ABetter, Dscmp(a, b))
	assert.Equal(t, BBetter, Dscmp(b, a))

	// steps within one hop, sender identity decides "better by topology"
	b.StepsRemoved = 2
	assert.Equal(t, ABetterTopo, Dscmp(a, b))
	assert.Equal(t, BBetterTopo, Dscmp(b, a))
}

func TestDscmpIdenticalTuples(t *testing.T) {
	a := announceFrom(5, ptp.AnnounceBody{GrandmasterIdentity: 1})
	b := announceFrom(5, ptp.AnnounceBody{GrandmasterIdentity: 1})
	assert.Equal(t, Unknown, Dscmp(a, b))
}

// Dscmp must behave as a total order over distinct candidates
func TestDscmpTotalOrder(t *testing.T) {
	candidates := []*ptp.Announce{
		announceFrom(1, ptp.AnnounceBody{GrandmasterPriority1: 10, GrandmasterIdentity: 1}),
		announceFrom(2, ptp.AnnounceBody{GrandmasterPriority1: 128, GrandmasterIdentity: 2, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6}}),
		announceFrom(3, ptp.AnnounceBody{GrandmasterPriority1: 128, GrandmasterIdentity: 3, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass13}}),
		announceFrom(4, ptp.AnnounceBody{GrandmasterPriority1: 128, GrandmasterIdentity: 4, GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass13}, GrandmasterPriority2: 1}),
		announceFrom(5, ptp.AnnounceBody{GrandmasterIdentity: 5, StepsRemoved: 4}),
	}
	// antisymmetry
	for i, a := range candidates {
		for j, b := range candidates {
			if i == j {
				continue
			}
			ab, ba := Dscmp(a, b), Dscmp(b, a)
			assert.Equal(t, ab > 0, ba < 0, "candidates %d vs %d", i, j)
		}
	}
	// transitivity over the content comparisons
	for _, a := range candidates {
		for _, b := range candidates {
			for _, c := range candidates {
				if Dscmp(a, b) > 0 && Dscmp(b, c) > 0 {
					assert.Positive(t, int(Dscmp(a, c)))
				}
			}
		}
	}
}
