package kernel

// ticketLock is a small mutual-exclusion queue guaranteeing FIFO
// acquisition order, since Go's sync.Mutex makes no such promise under
// contention. Submissions from a single caller already serialize in call
// order; this guarantees concurrent submitters from different goroutines
// are also serviced in arrival order, preserving the "lock is FIFO-fair to
// waiting submitters" requirement.
type ticketLock struct {
	tickets chan struct{}
}

func newTicketLock() *ticketLock {
	t := &ticketLock{tickets: make(chan struct{}, 1)}
	t.tickets <- struct{}{}
	return t
}

// acquire blocks until it is this caller's turn, in the order callers
// invoked acquire.
func (t *ticketLock) acquire() func() {
	<-t.tickets
	return func() { t.tickets <- struct{}{} }
}
