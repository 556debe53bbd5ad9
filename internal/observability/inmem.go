package observability

import "sync"

// Inmem keeps a bounded ring of recent observations plus running totals.
// Enough for local inspection; any real backend can implement Metrics instead.
type Inmem struct {
	mu     sync.Mutex
	last   []any
	max    int
	totals struct {
		cacheHits, cacheMiss   int
		processed, processFail int
		enqueued, enqueueFail  int
	}
}

func NewInmem(max int) *Inmem {
	return &Inmem{max: max}
}

func (m *Inmem) push(v any) {
	m.last = append(m.last, v)
	if len(m.last) > m.max {
		m.last = m.last[1:]
	}
}

func (m *Inmem) ObserveHTTP(method, route string, status int, durMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(struct {
		Kind          string
		Method, Route string
		Status        int
		Dur           float64
	}{"http", method, route, status, durMs})
}

func (m *Inmem) ObserveEnqueue(durMs float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.totals.enqueued++
	} else {
		m.totals.enqueueFail++
	}
	m.push(struct {
		Kind string
		Dur  float64
		OK   bool
	}{"enqueue", durMs, ok})
}

func (m *Inmem) ObserveProcess(durMs float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.totals.processed++
	} else {
		m.totals.processFail++
	}
	m.push(struct {
		Kind string
		Dur  float64
		OK   bool
	}{"process", durMs, ok})
}

func (m *Inmem) ObserveLookup(source string, durMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push(struct {
		Kind, Source string
		Dur          float64
	}{"lookup", source, durMs})
}

func (m *Inmem) IncCacheHit() {
	m.mu.Lock()
	m.totals.cacheHits++
	m.mu.Unlock()
}

func (m *Inmem) IncCacheMiss() {
	m.mu.Lock()
	m.totals.cacheMiss++
	m.mu.Unlock()
}

type Totals struct {
	CacheHits, CacheMisses int
	Processed, ProcessFail int
	Enqueued, EnqueueFail  int
}

func (m *Inmem) Snapshot() Totals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Totals{
		CacheHits:   m.totals.cacheHits,
		CacheMisses: m.totals.cacheMiss,
		Processed:   m.totals.processed,
		ProcessFail: m.totals.processFail,
		Enqueued:    m.totals.enqueued,
		EnqueueFail: m.totals.enqueueFail,
	}
}
