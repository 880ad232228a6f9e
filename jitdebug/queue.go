// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import "container/heap"

// DeliveryQueue buffers DebugInfo records and releases them to the
// consumer only once the external record feed's watermark has advanced
// past their timestamp, implementing ordered-delivery mode. Immediate
// mode bypasses all of this; callers that selected DeliveryImmediate
// should not use a DeliveryQueue at all.
type DeliveryQueue struct {
	items     debugInfoHeap
	watermark int64
}

// NewDeliveryQueue returns an empty queue.
func NewDeliveryQueue() *DeliveryQueue {
	return &DeliveryQueue{}
}

// Push enqueues one record for ordered delivery.
func (q *DeliveryQueue) Push(info DebugInfo) {
	heap.Push(&q.items, info)
}

// Advance raises the watermark to ts if ts is newer, and returns every
// buffered record whose timestamp is now strictly below it, oldest
// first. A record exactly at the watermark is held back, since the
// external feed advancing to ts does not guarantee nothing else at ts
// remains to arrive.
func (q *DeliveryQueue) Advance(ts int64) []DebugInfo {
	if ts > q.watermark {
		q.watermark = ts
	}
	var drained []DebugInfo
	for q.items.Len() > 0 && q.items[0].Timestamp < q.watermark {
		drained = append(drained, heap.Pop(&q.items).(DebugInfo))
	}
	return drained
}

// Len reports how many records are currently buffered.
func (q *DeliveryQueue) Len() int {
	return q.items.Len()
}

// debugInfoHeap is a container/heap.Interface min-heap over DebugInfo
// ordered by Timestamp.
type debugInfoHeap []DebugInfo

func (h debugInfoHeap) Len() int            { return len(h) }
func (h debugInfoHeap) Less(i, j int) bool  { return h[i].Timestamp < h[j].Timestamp }
func (h debugInfoHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *debugInfoHeap) Push(x interface{}) { *h = append(*h, x.(DebugInfo)) }
func (h *debugInfoHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
