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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCompute(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)

	// delay 500ns each way, slave clock 200ns behind the master
	delta := 500 * time.Nanosecond
	offset := -200 * time.Nanosecond
	t1 := base.Add(1000 * time.Nanosecond)
	t2 := base.Add(1000 * time.Nanosecond).Add(delta).Add(offset)
	t3 := base.Add(2000 * time.Nanosecond).Add(offset)
	t4 := base.Add(2000 * time.Nanosecond).Add(delta)

	m, err := f.Compute(t1, t2, t3, t4, 0)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Nanosecond, m.MeanPathDelay)
	assert.Equal(t, -200*time.Nanosecond, m.Offset)
	assert.Equal(t, t2, m.Timestamp)
}

func TestFilterDelayAsymmetry(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)
	t1 := base
	t2 := base.Add(500 * time.Nanosecond)
	t3 := base.Add(time.Microsecond)
	t4 := base.Add(time.Microsecond).Add(500 * time.Nanosecond)

	m, err := f.Compute(t1, t2, t3, t4, 100*time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 400*time.Nanosecond, m.MeanPathDelay)
	assert.Equal(t, 100*time.Nanosecond, m.Offset)
}

func TestFilterMonotonicityViolation(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)

	_, err := f.Compute(base.Add(time.Second), base, base, base.Add(time.Second), 0)
	assert.ErrorIs(t, err, ErrMonotonicity)

	_, err = f.Compute(base, base.Add(time.Second), base.Add(time.Second), base.Add(time.Second), 0)
	assert.ErrorIs(t, err, ErrMonotonicity)
}

func TestFilterNegativeDelay(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)
	// large asymmetry pushes the computed delay below zero
	_, err := f.Compute(base, base.Add(100*time.Nanosecond),
		base.Add(time.Microsecond), base.Add(time.Microsecond+100*time.Nanosecond),
		time.Microsecond)
	assert.ErrorIs(t, err, ErrNegativeDelay)
}

// meanPathDelay must be non-negative whenever T4-T1 >= T2-T3
func TestFilterDelayNonNegative(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)
	cases := []struct {
		t1, t2, t3, t4 time.Duration
	}{
		{0, 10, 20, 30},
		{0, 1, 1000, 2000},
		{0, 999, 1000, 1001},
	}
	for _, c := range cases {
		m, err := f.Compute(base.Add(c.t1), base.Add(c.t2), base.Add(c.t3), base.Add(c.t4), 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, m.MeanPathDelay, time.Duration(0))
	}
}

func TestFilterSpikeRejected(t *testing.T) {
	f := NewFilter()
	base := time.Unix(1653142200, 0)

	// a steady stream of ~100ns offsets
	for i := 0; i < 10; i++ {
		t1 := base.Add(time.Duration(i) * time.Second)
		t2 := t1.Add(600 * time.Nanosecond) // delay 500 + offset 100
		t3 := t1.Add(time.Millisecond)
		t4 := t3.Add(400 * time.Nanosecond) // delay 500 - offset 100
		_, err := f.Compute(t1, t2, t3, t4, 0)
		require.NoError(t, err)
	}

	// one wild outlier must be discarded
	t1 := base.Add(time.Minute)
	t2 := t1.Add(500 * time.Millisecond)
	t3 := t1.Add(time.Second)
	t4 := t3.Add(500 * time.Nanosecond)
	_, err := f.Compute(t1, t2, t3, t4, 0)
	assert.ErrorIs(t, err, ErrSpike)

	// and the stream keeps being accepted afterwards
	t1 = base.Add(2 * time.Minute)
	t2 = t1.Add(600 * time.Nanosecond)
	t3 = t1.Add(time.Millisecond)
	t4 = t3.Add(400 * time.Nanosecond)
	_, err = f.Compute(t1, t2, t3, t4, 0)
	assert.NoError(t, err)
}
