// Package journal persists one JSON audit record per processed signal, so a
// signal's full outcome can be traced offline by correlation id.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// OrderRecord is one order leg inside a signal record.
type OrderRecord struct {
	OrderID  int64   `json:"order_id"`
	Type     string  `json:"type"`
	Side     string  `json:"side"`
	Price    float64 `json:"price,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
	Status   string  `json:"status,omitempty"`
}

// SignalRecord captures the end-to-end outcome of one dispatched signal.
type SignalRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	StrategyID    int64          `json:"strategy_id"`
	Symbol        string         `json:"symbol"`
	SignalType    string         `json:"signal_type"`
	Side          string         `json:"side,omitempty"`
	Entry         float64        `json:"entry,omitempty"`
	Quantity      float64        `json:"quantity,omitempty"`
	Orders        []OrderRecord  `json:"orders,omitempty"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Writer persists signal records to a directory as JSON files. Safe for
// concurrent use.
type Writer struct {
	mu    sync.Mutex
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteSignal writes one record to a timestamped JSON file and returns its
// path.
func (w *Writer) WriteSignal(rec *SignalRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("signal_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
