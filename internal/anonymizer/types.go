package anonymizer

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/persondata/internal/entities"
	"github.com/raaihank/persondata/internal/errs"
	"github.com/raaihank/persondata/internal/ner"
)

// Redaction modes reported in a Result.
const (
	ModeNERPatterns = "ner+patterns"
	ModePatterns    = "patterns"
)

// Operations reported in an Event.
const (
	OperationAnonymize = "anonymize"
	OperationDetect    = "detect"
)

// ModelGateway hands out a ready recognizer. *gateway.Gateway implements it.
type ModelGateway interface {
	Acquire(ctx context.Context) (ner.Recognizer, error)
}

// EntityCache stores raw recognizer output per input text.
type EntityCache interface {
	Get(ctx context.Context, text string) ([]ner.Entity, bool, error)
	Set(ctx context.Context, text string, list []ner.Entity) error
}

// Auditor persists a summary of each request.
type Auditor interface {
	Record(ctx context.Context, ev Event) error
}

// Publisher fans events out to live subscribers. Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// Result is the outcome of one anonymization.
type Result struct {
	Text           string   `json:"text"`
	DetectedLabels []string `json:"detected_types"`
	Mode           string   `json:"mode"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	EntityCount    int      `json:"entity_count"`
	Replacements   int      `json:"replacements"`
}

// Outcome is the result of the NER path: either entities or the reason there
// are none.
type Outcome struct {
	Entities []entities.Entity
	Reason   error
}

// Available reports whether NER produced a usable entity list.
func (o Outcome) Available() bool {
	return o.Reason == nil
}

// Event summarizes a request. It never carries input or output text.
type Event struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id,omitempty"`
	Operation      string        `json:"operation"`
	Mode           string        `json:"mode"`
	Labels         []string      `json:"labels"`
	InputBytes     int           `json:"input_bytes"`
	EntityCount    int           `json:"entity_count"`
	Replacements   int           `json:"replacements"`
	Duration       time.Duration `json:"duration"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Stats are running counters for a Service.
type Stats struct {
	Requests        int64            `json:"requests"`
	Detections      int64            `json:"detections"`
	NERApplied      int64            `json:"ner_applied"`
	Fallbacks       int64            `json:"fallbacks"`
	FallbackReasons map[string]int64 `json:"fallback_reasons"`
	CacheHits       int64            `json:"cache_hits"`
	CacheErrors     int64            `json:"cache_errors"`
	SinkErrors      int64            `json:"sink_errors"`
}

// ReasonType returns the error type of a fallback reason, e.g.
// "model_load_timeout", or "unknown" for untyped errors.
func ReasonType(err error) string {
	if err == nil {
		return ""
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Type
	}
	return "unknown"
}
