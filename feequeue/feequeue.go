// Package feequeue implements the mem-pool admission queue: a bounded
// max-heap over incoming L2 transactions and withdrawals ordered by
// (fee_rate desc, insertion_order asc), with nonce-aware fetch
// semantics that keep each sender's produced-block nonces contiguous.
// Built on a gas-price max-heap idiom (container/heap, index tracking,
// per-sender nonce bookkeeping), repurposed from price-desc transaction
// eviction to fee-desc admission.
package feequeue

import (
	"container/heap"
	"sort"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// MaxQueueSize bounds how many live entries the queue holds before
// evicting a drop batch.
const MaxQueueSize = 10_000

// DropSize is how many lowest-priority entries are evicted in one pass
// once the queue exceeds MaxQueueSize.
const DropSize = 100

type senderNonce struct {
	sender gwtypes.Hash
	nonce  uint32
}

// Entry is one admitted mem-pool item: a transaction or withdrawal
// tagged with its sender, nonce, and fee rate.
type Entry struct {
	Sender  gwtypes.Hash
	Nonce   uint32
	FeeRate uint64
	Item    interface{}

	seq   uint64
	index int
}

// maxFeeHeap orders entries by (fee_rate desc, insertion_order asc).
type maxFeeHeap []*Entry

func (h maxFeeHeap) Len() int { return len(h) }

func (h maxFeeHeap) Less(i, j int) bool {
	if h[i].FeeRate != h[j].FeeRate {
		return h[i].FeeRate > h[j].FeeRate
	}
	return h[i].seq < h[j].seq
}

func (h maxFeeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *maxFeeHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *maxFeeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is the bounded max-heap mem-pool admission queue.
type Queue struct {
	h       maxFeeHeap
	byKey   map[senderNonce]*Entry
	nextSeq uint64
}

// NewQueue returns an empty admission queue.
func NewQueue() *Queue {
	q := &Queue{byKey: make(map[senderNonce]*Entry)}
	heap.Init(&q.h)
	return q
}

// Len reports how many live entries the queue currently holds.
func (q *Queue) Len() int { return q.h.Len() }

// Senders returns the distinct senders with at least one entry
// currently queued, without consuming any entry -- used by a producer
// to know which on-chain nonces it needs to look up before calling Fetch.
func (q *Queue) Senders() []gwtypes.Hash {
	seen := make(map[gwtypes.Hash]bool, len(q.byKey))
	out := make([]gwtypes.Hash, 0, len(q.byKey))
	for k := range q.byKey {
		if !seen[k.sender] {
			seen[k.sender] = true
			out = append(out, k.sender)
		}
	}
	return out
}

// Insert admits item under (sender, nonce, feeRate). A strictly higher
// feeRate for an existing (sender, nonce) pair replaces it
// (replace-by-fee); an equal or lower feeRate is dropped and Insert
// returns false.
func (q *Queue) Insert(sender gwtypes.Hash, nonce uint32, feeRate uint64, item interface{}) bool {
	k := senderNonce{sender, nonce}
	if existing, ok := q.byKey[k]; ok {
		if feeRate <= existing.FeeRate {
			return false
		}
		q.removeEntry(existing)
	}
	e := &Entry{Sender: sender, Nonce: nonce, FeeRate: feeRate, Item: item, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.h, e)
	q.byKey[k] = e
	q.enforceCapacity()
	return true
}

func (q *Queue) removeEntry(e *Entry) {
	if e.index < 0 || e.index >= len(q.h) || q.h[e.index] != e {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.byKey, senderNonce{e.Sender, e.Nonce})
}

// enforceCapacity evicts the DropSize lowest-priority (lowest fee_rate,
// ties broken toward the newest entry) live entries once the queue
// exceeds MaxQueueSize.
func (q *Queue) enforceCapacity() {
	if q.h.Len() <= MaxQueueSize {
		return
	}
	ranked := make([]*Entry, len(q.h))
	copy(ranked, q.h)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].FeeRate != ranked[j].FeeRate {
			return ranked[i].FeeRate < ranked[j].FeeRate
		}
		return ranked[i].seq > ranked[j].seq
	})
	batch := DropSize
	if batch > len(ranked) {
		batch = len(ranked)
	}
	for _, e := range ranked[:batch] {
		q.removeEntry(e)
	}
}

// Fetch pops up to count items ordered by (fee_rate desc,
// insertion_order asc), applying nonce-contiguity rules against each
// sender's on-chain nonce in onChainNonce (absent senders default to
// nonce 0): equal nonce is fetched and advances a local cursor for that
// sender; greater nonce is set aside and re-admitted to the queue,
// immediately if fetching its predecessor makes it contiguous, or at
// the end of this call otherwise; lesser (stale) nonce is dropped
// permanently.
func (q *Queue) Fetch(onChainNonce map[gwtypes.Hash]uint64, count int) []*Entry {
	cursor := make(map[gwtypes.Hash]uint64, len(onChainNonce))
	for k, v := range onChainNonce {
		cursor[k] = v
	}

	held := make(map[senderNonce]*Entry)
	var fetched []*Entry

	for len(fetched) < count && q.h.Len() > 0 {
		e := heap.Pop(&q.h).(*Entry)
		delete(q.byKey, senderNonce{e.Sender, e.Nonce})

		base := cursor[e.Sender]
		switch {
		case uint64(e.Nonce) == base:
			fetched = append(fetched, e)
			cursor[e.Sender] = base + 1
			if next, ok := held[senderNonce{e.Sender, uint32(base + 1)}]; ok {
				delete(held, senderNonce{e.Sender, uint32(base + 1)})
				q.readmit(next)
			}
		case uint64(e.Nonce) > base:
			held[senderNonce{e.Sender, e.Nonce}] = e
		default:
			// stale: below the sender's current on-chain nonce, dropped.
		}
	}

	for _, e := range held {
		q.readmit(e)
	}
	return fetched
}

func (q *Queue) readmit(e *Entry) {
	heap.Push(&q.h, e)
	q.byKey[senderNonce{e.Sender, e.Nonce}] = e
}
