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

// Package clock abstracts the adjustable clock the engine disciplines.
// The engine only ever reads time and enqueues corrections through this
// interface; what backs it (system clock, PHC, a fake in tests) is up
// to the caller.
package clock

import (
	"time"
)

// Clock is the adjustable clock interface
type Clock interface {
	// Now reads current time
	Now() time.Time
	// AdjFreqPPB adjusts clock frequency in parts per billion
	AdjFreqPPB(freqPPB float64) error
	// Step jumps the clock by step
	Step(step time.Duration) error
	// MaxFreqPPB returns maximum frequency adjustment supported by the clock
	MaxFreqPPB() (float64, error)
}
