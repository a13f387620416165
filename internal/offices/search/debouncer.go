// Package search debounces office lookups typed by a client. Each keystroke
// supersedes the previous one: the pending timer is reset and the in-flight
// search is cancelled, so only the latest query produces a result.
package search

import (
	"context"
	"sync"
	"time"

	"civic/internal/offices/models"
)

const DefaultDelay = 350 * time.Millisecond

type SearchFunc func(ctx context.Context, query string) ([]*models.GovernmentOffice, error)

type Result struct {
	Query   string
	Offices []*models.GovernmentOffice
	Err     error
}

type Debouncer struct {
	search SearchFunc
	delay  time.Duration

	mu      sync.Mutex
	seq     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	closed  bool
	results chan Result
	wg      sync.WaitGroup
}

func NewDebouncer(search SearchFunc, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		search:  search,
		delay:   delay,
		results: make(chan Result, 1),
	}
}

// Results yields the latest completed search. A result that was not read
// before a newer one completed is replaced. The channel is closed by Close.
func (d *Debouncer) Results() <-chan Result {
	return d.results
}

// Submit schedules query after the debounce delay, superseding anything
// scheduled or running. ctx bounds the search itself.
func (d *Debouncer) Submit(ctx context.Context, query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.supersedeLocked()

	d.seq++
	seq := d.seq
	searchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.timer = time.AfterFunc(d.delay, func() { d.run(searchCtx, seq, query) })
}

// Cancel drops the scheduled and in-flight search without closing.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.supersedeLocked()
}

// Close cancels outstanding work, waits for a running search to return and
// closes Results. Nothing is delivered after Close returns.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.seq++
	d.supersedeLocked()
	d.mu.Unlock()

	d.wg.Wait()
	close(d.results)
}

func (d *Debouncer) supersedeLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) run(ctx context.Context, seq uint64, query string) {
	d.mu.Lock()
	if d.closed || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	offices, err := d.search(ctx, query)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || seq != d.seq || ctx.Err() != nil {
		return
	}
	select {
	case <-d.results:
	default:
	}
	d.results <- Result{Query: query, Offices: offices, Err: err}
}
