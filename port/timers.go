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
	"container/heap"
	"time"
)

// TimerKind enumerates the per-port timers
type TimerKind uint8

// Timers of the port state machine
const (
	TimerAnnounceSend TimerKind = iota
	TimerSyncSend
	TimerAnnounceReceipt
	TimerDelayReqSend
	numTimerKinds
)

// TimerKindToString is a map from TimerKind to string
var TimerKindToString = map[TimerKind]string{
	TimerAnnounceSend:    "ANNOUNCE_SEND",
	TimerSyncSend:        "SYNC_SEND",
	TimerAnnounceReceipt: "ANNOUNCE_RECEIPT",
	TimerDelayReqSend:    "DELAY_REQ_SEND",
}

func (k TimerKind) String() string {
	return TimerKindToString[k]
}

// Deadline is one armed timer. Cancellation is by epoch: a state change
// bumps the port's epoch for the kind and stale deadlines are dropped
// when they pop, no removal from the middle of the heap.
type Deadline struct {
	When  time.Time
	Port  uint16
	Kind  TimerKind
	Epoch uint64
}

type deadlineHeap []Deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].When.Before(h[j].When) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(Deadline)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

// TimerQueue is a monotonic priority queue of deadlines shared by all
// ports of an instance
type TimerQueue struct {
	h deadlineHeap
}

// NewTimerQueue creates an empty queue
func NewTimerQueue() *TimerQueue {
	q := &TimerQueue{}
	heap.Init(&q.h)
	return q
}

// Schedule arms a deadline
func (q *TimerQueue) Schedule(d Deadline) {
	heap.Push(&q.h, d)
}

// Next returns the earliest armed deadline, ok=false when empty
func (q *TimerQueue) Next() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].When, true
}

// PopDue removes and returns all deadlines at or before now, earliest first
func (q *TimerQueue) PopDue(now time.Time) []Deadline {
	var due []Deadline
	for len(q.h) > 0 && !q.h[0].When.After(now) {
		due = append(due, heap.Pop(&q.h).(Deadline))
	}
	return due
}

// Len returns the number of armed deadlines, stale ones included
func (q *TimerQueue) Len() int {
	return len(q.h)
}
