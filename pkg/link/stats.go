package link

import "sync/atomic"

// Stats is a snapshot of link counters.
type Stats struct {
	TxFrames   uint64
	TxOctets   uint64
	RxFrames   uint64
	RxOctets   uint64
	DMAErrors  uint64
	FIFOErrors uint64
	Violations uint64
}

type counters struct {
	txFrames   uint64
	txOctets   uint64
	rxFrames   uint64
	rxOctets   uint64
	dmaErrors  uint64
	fifoErrors uint64
	violations uint64
}

func (c *counters) snapshot(reset bool) Stats {
	load := atomic.LoadUint64
	if reset {
		load = func(p *uint64) uint64 { return atomic.SwapUint64(p, 0) }
	}
	return Stats{
		TxFrames:   load(&c.txFrames),
		TxOctets:   load(&c.txOctets),
		RxFrames:   load(&c.rxFrames),
		RxOctets:   load(&c.rxOctets),
		DMAErrors:  load(&c.dmaErrors),
		FIFOErrors: load(&c.fifoErrors),
		Violations: load(&c.violations),
	}
}
