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

package clock

import (
	"time"
)

// FakeClock is a manually driven clock for tests
type FakeClock struct {
	Time     time.Time
	FreqPPB  float64
	Steps    []time.Duration
	FreqAdjs []float64
}

// NewFakeClock creates a FakeClock starting at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{Time: start}
}

// Now reads current fake time
func (c *FakeClock) Now() time.Time {
	return c.Time
}

// Advance moves fake time forward
func (c *FakeClock) Advance(d time.Duration) {
	c.Time = c.Time.Add(d)
}

// AdjFreqPPB records the frequency adjustment
func (c *FakeClock) AdjFreqPPB(freqPPB float64) error {
	c.FreqPPB = freqPPB
	c.FreqAdjs = append(c.FreqAdjs, freqPPB)
	return nil
}

// Step records the step and applies it to fake time
func (c *FakeClock) Step(step time.Duration) error {
	c.Steps = append(c.Steps, step)
	c.Time = c.Time.Add(step)
	return nil
}

// MaxFreqPPB returns a sane default
func (c *FakeClock) MaxFreqPPB() (float64, error) {
	return 500000.0, nil
}
