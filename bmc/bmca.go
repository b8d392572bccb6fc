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
	"github.com/clockwerk-io/ptpd/datasets"
	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// Decision is the state decision code of Figure 26
type Decision uint8

// State decision codes. None means no transition is recommended,
// e.g. a slave-only clock with no master in sight stays listening.
const (
	DecisionNone Decision = iota
	DecisionS1
	DecisionM1
	DecisionM2
	DecisionM3
	DecisionP1
	DecisionP2
)

// DecisionToString is a map from Decision to string
var DecisionToString = map[Decision]string{
	DecisionNone: "NONE",
	DecisionS1:   "S1",
	DecisionM1:   "M1",
	DecisionM2:   "M2",
	DecisionM3:   "M3",
	DecisionP1:   "P1",
	DecisionP2:   "P2",
}

func (d Decision) String() string {
	return DecisionToString[d]
}

// RecommendedState is the per-port outcome of the state decision algorithm.
// Announce is set for S1 (the elected master's announce) and nil otherwise.
type RecommendedState struct {
	Decision Decision
	Announce *ptp.Announce
}

// SelfAnnounce renders the clock's own DefaultDS as an Announce so it can
// take part in dataset comparison (the D0 dataset of section 9.3.4)
func SelfAnnounce(def *datasets.DefaultDS) *ptp.Announce {
	a := &ptp.Announce{}
	a.Header.SourcePortIdentity = ptp.PortIdentity{ClockIdentity: def.ClockIdentity}
	a.AnnounceBody = ptp.AnnounceBody{
		GrandmasterPriority1:    def.Priority1,
		GrandmasterClockQuality: def.ClockQuality,
		GrandmasterPriority2:    def.Priority2,
		GrandmasterIdentity:     def.ClockIdentity,
		StepsRemoved:            0,
	}
	return a
}

// RecommendPort computes the state decision for one port.
// erbest is the port's own best qualified foreign master (may be nil),
// ebest the best across all ports of the instance (may be nil).
func RecommendPort(def *datasets.DefaultDS, erbest, ebest *ptp.Announce) RecommendedState {
	if ebest == nil {
		if def.SlaveOnly {
			// nothing to follow and we must not lead
			return RecommendedState{Decision: DecisionNone}
		}
		return RecommendedState{Decision: DecisionM1}
	}
	if def.SlaveOnly {
		return RecommendedState{Decision: DecisionS1, Announce: ebest}
	}

	// D0 against Ebest
	switch Dscmp(SelfAnnounce(def), ebest) {
	case ABetter:
		return RecommendedState{Decision: DecisionM2}
	case ABetterTopo:
		return RecommendedState{Decision: DecisionM3}
	}

	if erbest != nil && sameSource(erbest, ebest) {
		return RecommendedState{Decision: DecisionS1, Announce: ebest}
	}

	// Ebest was learned on another port. The port goes passive; an
	// unresolved topology comparison also prefers passive over master.
	if erbest != nil && Dscmp2(erbest, ebest) == ABetterTopo {
		return RecommendedState{Decision: DecisionP2}
	}
	return RecommendedState{Decision: DecisionP1}
}

// Ebest picks the best announce among the per-port Erbest values.
// Entries may be nil for ports with no qualified foreign master.
func Ebest(erbests []*ptp.Announce) *ptp.Announce {
	var best *ptp.Announce
	for _, msg := range erbests {
		if msg == nil {
			continue
		}
		if best == nil || Dscmp(best, msg) < 0 {
			best = msg
		}
	}
	return best
}

func sameSource(a, b *ptp.Announce) bool {
	return a.Header.SourcePortIdentity.Compare(b.Header.SourcePortIdentity) == 0
}
