package tracker

import (
	"sync"
	"time"
)

// OperationLog is one GraphQL request as seen by the gateway.
type OperationLog struct {
	ID            int64         `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Method        string        `json:"method"`
	URI           string        `json:"uri"`
	OperationType string        `json:"operation_type,omitempty"`
	OperationName string        `json:"operation_name,omitempty"`
	Query         string        `json:"query,omitempty"`
	StatusCode    int           `json:"status_code"`
	ErrorCount    int           `json:"error_count"`
	ErrorClass    string        `json:"error_class,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	RemoteAddr    string        `json:"remote_addr"`
}

// Tracker keeps the most recent operations in memory, newest last.
type Tracker struct {
	logs    []OperationLog
	mu      sync.RWMutex
	nextID  int64
	maxLogs int
}

func NewTracker(maxLogs int) *Tracker {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &Tracker{
		logs:    make([]OperationLog, 0, maxLogs),
		maxLogs: maxLogs,
		nextID:  1,
	}
}

func (t *Tracker) Log(entry OperationLog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.ID = t.nextID
	t.nextID++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	t.logs = append(t.logs, entry)
	if len(t.logs) > t.maxLogs {
		t.logs = t.logs[len(t.logs)-t.maxLogs:]
	}
}

// GetLogs returns the logged operations, newest first.
func (t *Tracker) GetLogs() []OperationLog {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]OperationLog, len(t.logs))
	for i, j := 0, len(t.logs)-1; j >= 0; i, j = i+1, j-1 {
		result[i] = t.logs[j]
	}
	return result
}

// Filter returns the logged operations of one type, newest first. An empty
// type matches everything.
func (t *Tracker) Filter(operationType string) []OperationLog {
	all := t.GetLogs()
	if operationType == "" {
		return all
	}
	filtered := make([]OperationLog, 0, len(all))
	for _, entry := range all {
		if entry.OperationType == operationType {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = make([]OperationLog, 0, t.maxLogs)
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.logs)
}
