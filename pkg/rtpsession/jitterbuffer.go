package rtpsession

import (
	"container/heap"
	"sync"

	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/pion/rtp"
)

// JitterBuffer reorders inbound RTP packets by extended sequence number
// before handing them to the consumer, absorbing network jitter up to
// targetDepth packets and bounding memory at maxDepth. Unlike a playout
// buffer ordered by RTP timestamp, this buffer orders strictly by
// sequence number with 16-bit wraparound handled via an internal
// rollover counter.
type JitterBuffer struct {
	mu sync.Mutex

	targetDepth int
	maxDepth    int

	entries   entryHeap
	roc       uint32
	lastSeq   uint16
	seeded    bool
	nextPop   uint32 // extended sequence number the consumer is waiting for
	popSeeded bool
	popped    bool // set once the consumer has popped at least one packet

	lateDrops      uint64
	duplicateDrops uint64
	overflowDrops  uint64

	mx *metrics.Collectors
}

type jitterEntry struct {
	extSeq uint32
	pkt    *rtp.Packet
	index  int
}

type entryHeap []*jitterEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].extSeq < h[j].extSeq }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*jitterEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// NewJitterBuffer builds a buffer targeting targetDepth buffered packets
// before playout begins draining and refusing to grow past maxDepth.
func NewJitterBuffer(targetDepth, maxDepth int, mx *metrics.Collectors) *JitterBuffer {
	if targetDepth <= 0 {
		targetDepth = 3
	}
	if maxDepth <= 0 || maxDepth < targetDepth {
		maxDepth = 50
	}
	if mx == nil {
		mx = metrics.Noop()
	}
	jb := &JitterBuffer{targetDepth: targetDepth, maxDepth: maxDepth, mx: mx}
	heap.Init(&jb.entries)
	return jb
}

// extend reconstructs the 32-bit extended sequence number for seq,
// advancing the rollover counter on forward wraparound (mirrors
// pkg/srtp's rocState, independently because this buffer tracks the
// media timeline rather than the cryptographic one).
func (jb *JitterBuffer) extend(seq uint16) uint32 {
	if !jb.seeded {
		jb.lastSeq = seq
		jb.seeded = true
		return seq
	}
	if seq < jb.lastSeq && jb.lastSeq-seq > 0x8000 {
		jb.roc++
	} else if seq > jb.lastSeq && seq-jb.lastSeq > 0x8000 {
		// A packet that looks far in the past relative to the rollover just
		// taken; treat it as belonging to the prior epoch.
		return (jb.roc-1)<<16 | uint32(seq)
	}
	jb.lastSeq = seq
	return jb.roc<<16 | uint32(seq)
}

// Push enqueues an inbound packet. It returns false (and increments a drop
// counter) if the packet is a duplicate, arrives after the consumer has
// already popped past it, or the buffer is at maxDepth capacity.
func (jb *JitterBuffer) Push(pkt *rtp.Packet) bool {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	extSeq := jb.extend(pkt.SequenceNumber)

	if jb.popped && extSeq < jb.nextPop {
		jb.lateDrops++
		jb.mx.JitterBufferDrops.WithLabelValues("late").Inc()
		return false
	}
	for _, e := range jb.entries {
		if e.extSeq == extSeq {
			jb.duplicateDrops++
			jb.mx.JitterBufferDrops.WithLabelValues("duplicate").Inc()
			return false
		}
	}
	if len(jb.entries) >= jb.maxDepth {
		jb.overflowDrops++
		jb.mx.JitterBufferDrops.WithLabelValues("overflow").Inc()
		return false
	}

	heap.Push(&jb.entries, &jitterEntry{extSeq: extSeq, pkt: pkt})
	if !jb.popSeeded || (!jb.popped && extSeq < jb.nextPop) {
		jb.nextPop = extSeq
		jb.popSeeded = true
	}
	return true
}

// Ready reports whether the buffer holds enough packets to begin draining
// (depth has reached targetDepth) or the head of line is the very next
// expected sequence number, whichever comes first.
func (jb *JitterBuffer) Ready() bool {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	if len(jb.entries) == 0 {
		return false
	}
	return len(jb.entries) >= jb.targetDepth || jb.entries[0].extSeq == jb.nextPop
}

// Pop removes and returns the lowest extended-sequence packet currently
// buffered, or nil if the buffer is empty. A gap in the sequence (a packet
// never arrived) is surfaced to the caller as a skip-ahead: nextPop jumps
// to the popped packet's sequence number plus one.
func (jb *JitterBuffer) Pop() *rtp.Packet {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	if len(jb.entries) == 0 {
		return nil
	}
	e := heap.Pop(&jb.entries).(*jitterEntry)
	jb.nextPop = e.extSeq + 1
	jb.popped = true
	return e.pkt
}

// Depth returns the number of packets currently buffered.
func (jb *JitterBuffer) Depth() int {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return len(jb.entries)
}

// DropCounts returns the running late/duplicate/overflow drop counters.
func (jb *JitterBuffer) DropCounts() (late, duplicate, overflow uint64) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	return jb.lateDrops, jb.duplicateDrops, jb.overflowDrops
}
