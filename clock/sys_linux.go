//go:build linux && !386

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

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM is what we use to convert PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
// To convert value where 2^16=65536 is 1 ppm to ppb or back, we need this multiplier
const PPBToTimexPPM = 65.536

// clock_adjtime modes from usr/include/linux/timex.h
const (
	adjFrequency uint32 = 0x0002
	adjSetOffset uint32 = 0x0100
	adjNano      uint32 = 0x2000
)

// SysClock disciplines CLOCK_REALTIME via clock_adjtime(2)
type SysClock struct{}

// Now reads current system time
func (c *SysClock) Now() time.Time {
	return time.Now()
}

// AdjFreqPPB adjusts clock frequency in PPB
func (c *SysClock) AdjFreqPPB(freqPPB float64) error {
	tx := &unix.Timex{
		Modes: adjFrequency,
		Freq:  int64(freqPPB * PPBToTimexPPM),
	}
	_, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx)
	return err
}

// Step jumps the clock by step
func (c *SysClock) Step(step time.Duration) error {
	sign := 1
	if step < 0 {
		sign = -1
		step = step * -1
	}
	tx := &unix.Timex{Modes: adjSetOffset | adjNano}
	tx.Time.Sec = int64(sign) * int64(step/time.Second)
	tx.Time.Usec = int64(sign) * int64(step%time.Second)
	/*
	 * The value of a timeval is the sum of its fields, but the
	 * field tv_usec must always be non-negative.
	 */
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += 1000000000
	}
	_, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx)
	return err
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func (c *SysClock) MaxFreqPPB() (float64, error) {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx); err != nil {
		return 0.0, err
	}
	return float64(tx.Tolerance) / PPBToTimexPPM, nil
}
