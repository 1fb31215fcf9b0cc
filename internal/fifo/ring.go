package fifo

import "github.com/rjboer/GoGNSS/internal/sdr"

// node is one slot of the ring. next is an index into ring.nodes and always
// points back into the cycle.
type node struct {
	Packet
	next int
}

// ring is a fixed arena of nodes linked into a cycle. Nodes are allocated
// once and overwritten in place as the ring wraps.
type ring struct {
	nodes []node
	head  int // next node the producer writes
	tail  int // next node a consumer reads
}

func newRing(depth, samples int) *ring {
	r := &ring{nodes: make([]node, depth)}
	for i := range r.nodes {
		r.nodes[i].Data = make([]sdr.CPX, samples)
		r.nodes[i].next = (i + 1) % depth
	}
	return r
}

func (r *ring) advance(i int) int { return r.nodes[i].next }
