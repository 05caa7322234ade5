package audit

import (
	"time"

	"github.com/lib/pq"
)

// Record is one audited request. It holds category labels and counts only.
type Record struct {
	ID             string         `db:"id" json:"id"`
	RequestID      string         `db:"request_id" json:"request_id,omitempty"`
	Operation      string         `db:"operation" json:"operation"`
	Mode           string         `db:"mode" json:"mode"`
	Labels         pq.StringArray `db:"labels" json:"labels"`
	InputBytes     int            `db:"input_bytes" json:"input_bytes"`
	EntityCount    int            `db:"entity_count" json:"entity_count"`
	Replacements   int            `db:"replacements" json:"replacements"`
	DurationMs     float64        `db:"duration_ms" json:"duration_ms"`
	FallbackReason string         `db:"fallback_reason" json:"fallback_reason,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Stats summarizes the audit table
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	NERRequests   int64            `json:"ner_requests"`
	Fallbacks     int64            `json:"fallbacks"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
	ByReason      map[string]int64 `json:"by_reason"`
}

// BatchInsertResult contains the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}
