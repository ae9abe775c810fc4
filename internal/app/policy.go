package app

import (
	"sync"

	"github.com/aurachat/aurad/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(id core.ConnID) BackpressureAction
	OnDelivered(id core.ConnID)
}

// ThresholdPolicy drops frames until a connection has failed to drain
// maxStrikes deliveries in a row, then asks for a kick. A single
// successful delivery resets the count.
type ThresholdPolicy struct {
	maxStrikes int

	mu      sync.Mutex
	strikes map[core.ConnID]int
}

func NewThresholdPolicy(maxStrikes int) *ThresholdPolicy {
	if maxStrikes <= 0 {
		maxStrikes = 8
	}
	return &ThresholdPolicy{maxStrikes: maxStrikes, strikes: make(map[core.ConnID]int)}
}

func (p *ThresholdPolicy) OnBackPressure(id core.ConnID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strikes[id]++
	if p.strikes[id] >= p.maxStrikes {
		delete(p.strikes, id)
		return KickConn
	}
	return DropFrame
}

func (p *ThresholdPolicy) OnDelivered(id core.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.strikes, id)
}
