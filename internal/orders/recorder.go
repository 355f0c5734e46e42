package orders

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PraneshBalekai/vol-range-momentum/internal/broker"
)

// FillRecord is one absorbed fill, journaled for offline analysis.
type FillRecord struct {
	ID       string      `json:"id"`
	RunID    string      `json:"run_id"`
	OrderID  int64       `json:"order_id"`
	Side     broker.Side `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
	At       time.Time   `json:"at"`
}

// FillRecorder captures fills for later inspection.
type FillRecorder interface {
	Record(FillRecord)
}

// JSONLRecorder appends fills as JSON lines, tagging each with a fill ID and
// the session's run ID.
type JSONLRecorder struct {
	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
	runID string
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file:  file,
		enc:   json.NewEncoder(file),
		runID: uuid.NewString(),
	}, nil
}

// RunID identifies this session in the journal.
func (r *JSONLRecorder) RunID() string { return r.runID }

// Record writes a single fill to the underlying JSONL file.
func (r *JSONLRecorder) Record(fill FillRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fill.ID = uuid.NewString()
	fill.RunID = r.runID
	_ = r.enc.Encode(fill)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
