package cache

import (
	"time"

	"github.com/raaihank/persondata/internal/ner"
)

// cachedSpan is a recognizer entity without its surface text. Only offsets,
// labels and scores reach Redis.
type cachedSpan struct {
	Group string  `json:"g"`
	Score float64 `json:"s"`
	Start int     `json:"b"`
	End   int     `json:"e"`
}

// cachedEntities is the value stored under an entity key
type cachedEntities struct {
	ModelID  string       `json:"model"`
	Spans    []cachedSpan `json:"spans"`
	CachedAt time.Time    `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

func toSpans(list []ner.Entity) []cachedSpan {
	spans := make([]cachedSpan, len(list))
	for i, e := range list {
		spans[i] = cachedSpan{Group: e.EntityGroup, Score: e.Score, Start: e.Start, End: e.End}
	}
	return spans
}

func fromSpans(spans []cachedSpan) []ner.Entity {
	list := make([]ner.Entity, len(spans))
	for i, s := range spans {
		list[i] = ner.Entity{EntityGroup: s.Group, Score: s.Score, Start: s.Start, End: s.End}
	}
	return list
}
