package dashboard

import (
	"sync"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

// HistorySize is the number of results kept for display.
const HistorySize = 10

// History is a fixed-size ring of analysis results. When full, adding a
// result evicts the oldest one.
type History struct {
	mu   sync.RWMutex
	buf  []models.AnalysisResult
	head int // next write position
	full bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = HistorySize
	}
	return &History{buf: make([]models.AnalysisResult, size)}
}

func (h *History) Add(r models.AnalysisResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.head == 0 {
		h.full = true
	}
}

// Items returns the stored results, newest first.
func (h *History) Items() []models.AnalysisResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.lenLocked()
	out := make([]models.AnalysisResult, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.head - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lenLocked()
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.buf)
	}
	return h.head
}

func (h *History) Capacity() int {
	return len(h.buf)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.full = false
}
