package graph

import (
	"sync/atomic"
	"time"
)

// liveUpdateHz is the re-render cadence for the current-session view (spec
// §4.5 "Live update").
const liveUpdateHz = 1 * time.Second

// LiveUpdater drives 1Hz re-submission of a GraphRequest to a Worker while
// the graph window shows the live session and no zoom/pan interaction is in
// progress. Mirrors the ticker-plus-flag shape of speed.Controller.Run.
type LiveUpdater struct {
	worker    *Worker
	nextReq   func(seq uint64) GraphRequest
	suspended int32
	seq       uint64
	stopCh    chan struct{}
}

// NewLiveUpdater builds a LiveUpdater. nextReq produces the GraphRequest to
// submit on each tick, given the next sequence_id.
func NewLiveUpdater(worker *Worker, nextReq func(seq uint64) GraphRequest) *LiveUpdater {
	return &LiveUpdater{worker: worker, nextReq: nextReq, stopCh: make(chan struct{})}
}

// Suspend disables live re-rendering, e.g. while the user drags a brush
// selection or pans.
func (l *LiveUpdater) Suspend() { atomic.StoreInt32(&l.suspended, 1) }

// Resume re-enables live re-rendering.
func (l *LiveUpdater) Resume() { atomic.StoreInt32(&l.suspended, 0) }

// Run ticks at 1Hz, submitting a fresh request unless suspended, until
// Stop is called.
func (l *LiveUpdater) Run() {
	ticker := time.NewTicker(liveUpdateHz)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&l.suspended) == 1 {
				continue
			}
			l.seq++
			l.worker.Submit(l.nextReq(l.seq))
		}
	}
}

// Stop terminates Run.
func (l *LiveUpdater) Stop() { close(l.stopCh) }
