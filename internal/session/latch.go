package session

import "sync/atomic"

// Latch holds the attempt status and gates the move into Submitting.
// TryBeginSubmission is a compare-and-set on the status, so whichever
// trigger arrives first wins and every later trigger is a no-op.
type Latch struct {
	status atomic.Int32
	reason atomic.Value
	claims atomic.Int64
}

// NewLatch returns a latch in the Loading state.
func NewLatch() *Latch {
	l := &Latch{}
	l.status.Store(int32(StatusLoading))
	l.reason.Store(ReasonNone)
	return l
}

// Status returns the current status.
func (l *Latch) Status() Status {
	return Status(l.status.Load())
}

// Reason returns the reason recorded by the winning trigger.
func (l *Latch) Reason() Reason {
	return l.reason.Load().(Reason)
}

// Claims counts successful TryBeginSubmission calls.
func (l *Latch) Claims() int64 {
	return l.claims.Load()
}

// TryBeginSubmission moves InProgress to Submitting and records reason.
// It returns true only for the first caller.
func (l *Latch) TryBeginSubmission(reason Reason) bool {
	if !l.status.CompareAndSwap(int32(StatusInProgress), int32(StatusSubmitting)) {
		return false
	}
	l.reason.Store(reason)
	l.claims.Add(1)
	return true
}

// Release reopens the latch after a failed manual submission.
func (l *Latch) Release() bool {
	if !l.status.CompareAndSwap(int32(StatusSubmitting), int32(StatusInProgress)) {
		return false
	}
	l.reason.Store(ReasonNone)
	return true
}

func (l *Latch) transition(from, to Status) bool {
	return l.status.CompareAndSwap(int32(from), int32(to))
}
