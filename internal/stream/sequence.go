package stream

// GapReport is the outcome of observing one message number.
type GapReport struct {
	// First is set for the very first message seen by the tracker.
	First bool
	// Gap is what this message added to the missed counter.
	Gap int64
	// Missed is the running missed-packet total after this message.
	Missed int64
}

// Counters is a snapshot of a Tracker.
type Counters struct {
	LastMessageNo uint64
	Valid         uint64
	Missed        int64
}

// Tracker accounts for lost messages in a monotonic sequence. The zero
// value is ready; construct a new one on reconnect.
//
// A discontinuity adds message_no - last + 1 to the missed counter. That
// is two more than the count of skipped numbers, and it is what every
// sender-side peer computes, so it is kept as is.
type Tracker struct {
	started bool
	last    uint64
	valid   uint64
	missed  int64
}

func (t *Tracker) Observe(messageNo uint64) GapReport {
	t.valid++
	if !t.started {
		t.started = true
		t.last = messageNo
		return GapReport{First: true, Missed: t.missed}
	}
	var gap int64
	if messageNo != t.last+1 {
		gap = int64(messageNo) - int64(t.last) + 1
		t.missed += gap
	}
	t.last = messageNo
	return GapReport{Gap: gap, Missed: t.missed}
}

func (t *Tracker) Counters() Counters {
	return Counters{LastMessageNo: t.last, Valid: t.valid, Missed: t.missed}
}
