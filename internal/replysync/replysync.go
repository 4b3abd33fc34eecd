// Package replysync provides a fan-in barrier for a fixed number of
// outstanding asynchronous acknowledgements. The first error wins; the
// success continuation fires exactly once, on the final ack.
package replysync

import "sync"

// ReplySync collects n acknowledgements. Exactly one of the success
// continuation or an error continuation runs, exactly once, no matter
// how OK and Err calls interleave across goroutines.
type ReplySync struct {
	mu      sync.Mutex
	nAcks   int
	oks     int
	replied bool
	success func()
}

// New returns a barrier that runs success after nAcks calls to OK,
// provided no error arrived first.
func New(nAcks int, success func()) *ReplySync {
	return &ReplySync{nAcks: nAcks, success: success}
}

// OKReceived returns the number of acknowledgements seen so far.
func (r *ReplySync) OKReceived() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oks
}

// OK records one successful acknowledgement. The Nth OK invokes the
// success continuation unless an error already claimed the reply.
func (r *ReplySync) OK() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oks++
	if r.oks > r.nAcks {
		panic("replysync: received more acknowledgements than expected")
	}
	if r.oks == r.nAcks && !r.replied {
		r.replied = true
		r.success()
	}
}

// Err records a failed acknowledgement. The first error (before the
// success fired) invokes handler; later calls of either kind are no-ops.
func (r *ReplySync) Err(handler func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied {
		return
	}
	r.replied = true
	handler()
}
