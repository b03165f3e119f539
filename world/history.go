package world

import "sync"

const NilTick int64 = -1

// CycleHistory is a fixed-size ring of the most recent cycle reports. It is
// written by the tick loop and read by debug handlers.
type CycleHistory struct {
	mu      sync.RWMutex
	reports []*CycleReport
	index   int
}

func newRingBuffer(maxCapacity int) []*CycleReport {
	reports := make([]*CycleReport, maxCapacity)
	for i := range reports {
		reports[i] = &CycleReport{
			Tick: NilTick,
		}
	}
	return reports
}

func NewCycleHistory(maxCapacity int) *CycleHistory {
	if maxCapacity <= 0 {
		maxCapacity = 1
	}
	return &CycleHistory{
		reports: newRingBuffer(maxCapacity),
	}
}

func (h *CycleHistory) Add(report *CycleReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	index := (h.index + 1) % len(h.reports)
	if h.reports[h.index].Tick == NilTick {
		index = h.index
	}
	h.index = index
	h.reports[index] = report
}

func (h *CycleHistory) Current() *CycleReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	current := h.reports[h.index]
	if current.Tick == NilTick {
		return nil
	}
	return current
}

// ForEach visits stored reports from oldest to newest.
func (h *CycleHistory) ForEach(callback func(*CycleReport)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := 1; i <= len(h.reports); i++ {
		report := h.reports[(h.index+i)%len(h.reports)]
		if report.Tick == NilTick {
			continue
		}
		callback(report)
	}
}
