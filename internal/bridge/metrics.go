package bridge

import (
	"sync/atomic"
	"time"
)

// Metrics tracks the key path and session lifecycle.
// It is safe for concurrent use.
type Metrics struct {
	keysSent      atomic.Uint64
	keysUntouched atomic.Uint64
	keysFailed    atomic.Uint64
	inputTotalNs  atomic.Int64
	inputMinNs    atomic.Int64
	inputMaxNs    atomic.Int64

	linesReceived atomic.Uint64
	linesStale    atomic.Uint64

	connects   atomic.Uint64
	reconnects atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.inputMinNs.Store(1<<63 - 1)
	return m
}

// RecordInput records the round trip of one forwarded key.
func (m *Metrics) RecordInput(duration time.Duration) {
	ns := duration.Nanoseconds()
	m.keysSent.Add(1)
	m.inputTotalNs.Add(ns)

	for {
		cur := m.inputMinNs.Load()
		if ns >= cur || m.inputMinNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := m.inputMaxNs.Load()
		if ns <= cur || m.inputMaxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// RecordUntranslated records a key left to the host.
func (m *Metrics) RecordUntranslated() {
	m.keysUntouched.Add(1)
}

// RecordInputFailed records a key the engine did not accept.
func (m *Metrics) RecordInputFailed() {
	m.keysFailed.Add(1)
}

// RecordLines records a change notification; stale ones were dropped.
func (m *Metrics) RecordLines(stale bool) {
	m.linesReceived.Add(1)
	if stale {
		m.linesStale.Add(1)
	}
}

// RecordConnect records a session start. reconnect is true after the first.
func (m *Metrics) RecordConnect(reconnect bool) {
	m.connects.Add(1)
	if reconnect {
		m.reconnects.Add(1)
	}
}

// Snapshot returns a point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	sent := m.keysSent.Load()

	var avg int64
	if sent > 0 {
		avg = m.inputTotalNs.Load() / int64(sent)
	}
	minNs := m.inputMinNs.Load()
	if minNs == 1<<63-1 {
		minNs = 0
	}

	return MetricsSnapshot{
		Uptime:        time.Since(m.startTime),
		KeysSent:      sent,
		KeysUntouched: m.keysUntouched.Load(),
		KeysFailed:    m.keysFailed.Load(),
		AvgInputNs:    avg,
		MinInputNs:    minNs,
		MaxInputNs:    m.inputMaxNs.Load(),
		LinesReceived: m.linesReceived.Load(),
		LinesStale:    m.linesStale.Load(),
		Connects:      m.connects.Load(),
		Reconnects:    m.reconnects.Load(),
	}
}

// MetricsSnapshot is a point-in-time view of Metrics.
type MetricsSnapshot struct {
	Uptime        time.Duration
	KeysSent      uint64
	KeysUntouched uint64
	KeysFailed    uint64
	AvgInputNs    int64
	MinInputNs    int64
	MaxInputNs    int64
	LinesReceived uint64
	LinesStale    uint64
	Connects      uint64
	Reconnects    uint64
}

// AvgInput returns the mean key round trip.
func (s MetricsSnapshot) AvgInput() time.Duration {
	return time.Duration(s.AvgInputNs)
}
