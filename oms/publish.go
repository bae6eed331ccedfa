package oms

import (
	"sync"

	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/protocol"
)

// Publisher receives execution reports for encoding and delivery.
//
// Publish is called on the pipeline loop. Implementations must return
// quickly and must not call back into the pipeline.
type Publisher interface {
	Publish(...protocol.ExecutionReport)
}

// MemoryPublisher stores reports in memory, useful for testing.
type MemoryPublisher struct {
	mu      sync.RWMutex
	reports []protocol.ExecutionReport
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		reports: make([]protocol.ExecutionReport, 0),
	}
}

// Publish appends reports to the in-memory slice.
func (m *MemoryPublisher) Publish(reports ...protocol.ExecutionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, reports...)
}

// Count returns the number of reports stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reports)
}

// Get returns the report at the specified index.
func (m *MemoryPublisher) Get(index int) protocol.ExecutionReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.reports[index]
}

// Reports returns a copy of all reports stored.
func (m *MemoryPublisher) Reports() []protocol.ExecutionReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := make([]protocol.ExecutionReport, len(m.reports))
	copy(reports, m.reports)
	return reports
}

// ForParent returns the reports of one parent order in publish order.
func (m *MemoryPublisher) ForParent(parentID string) []protocol.ExecutionReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []protocol.ExecutionReport
	for _, r := range m.reports {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// Kinds returns the kinds of the reports of one parent order.
func (m *MemoryPublisher) Kinds(parentID string) []protocol.ExecKind {
	reports := m.ForParent(parentID)
	kinds := make([]protocol.ExecKind, len(reports))
	for i, r := range reports {
		kinds[i] = r.Kind
	}
	return kinds
}

// DiscardPublisher discards all reports, useful for benchmarking.
type DiscardPublisher struct {
}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(reports ...protocol.ExecutionReport) {

}

// LogPublisher writes every report to a zap logger.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a LogPublisher writing to l.
func NewLogPublisher(l *zap.Logger) *LogPublisher {
	return &LogPublisher{log: l}
}

// Publish logs each report at info level.
func (p *LogPublisher) Publish(reports ...protocol.ExecutionReport) {
	for _, r := range reports {
		p.log.Info("execution report",
			zap.String("parent_id", r.ParentID),
			zap.String("cl_ord_id", r.ClOrdID),
			zap.String("kind", string(r.Kind)),
			zap.String("status", string(r.Status)),
			zap.Int64("last_qty", int64(r.LastQty)),
			zap.Int64("cum_qty", int64(r.CumQty)),
			zap.Int64("leaves_qty", int64(r.LeavesQty)),
			zap.Stringer("last_px", r.LastPx),
			zap.Stringer("avg_px", r.AvgPx),
			zap.String("reason", r.Reason),
		)
	}
}
