// Package anonymizer combines entity recognition and pattern rules into the
// public redaction operations.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/entities"
	"github.com/raaihank/persondata/internal/errs"
	"github.com/raaihank/persondata/internal/logger"
	"github.com/raaihank/persondata/internal/ner"
	"github.com/raaihank/persondata/internal/patterns"
	"github.com/raaihank/persondata/internal/redact"
)

// Options configures a Service. Every field is optional; a nil Gateway
// disables NER and leaves pattern-only redaction.
type Options struct {
	Gateway   ModelGateway
	MinScore  float64
	Cache     EntityCache
	Auditor   Auditor
	Publisher Publisher
	Logger    *zap.Logger
}

// Service runs the NER path followed by the pattern pass. Safe for concurrent use.
type Service struct {
	rules     atomic.Pointer[patterns.RuleSet]
	gateway   ModelGateway
	minScore  float64
	cache     EntityCache
	auditor   Auditor
	publisher Publisher
	logger    *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a service around rules.
func New(rules *patterns.RuleSet, opts Options) *Service {
	if rules == nil {
		rules = patterns.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MinScore <= 0 {
		opts.MinScore = entities.DefaultMinScore
	}

	s := &Service{
		gateway:   opts.Gateway,
		minScore:  opts.MinScore,
		cache:     opts.Cache,
		auditor:   opts.Auditor,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		stats:     Stats{FallbackReasons: make(map[string]int64)},
	}
	s.rules.Store(rules)
	return s
}

// Rules returns the active rule set.
func (s *Service) Rules() *patterns.RuleSet {
	return s.rules.Load()
}

// SetRules swaps the rule set used by subsequent requests.
func (s *Service) SetRules(rules *patterns.RuleSet) {
	if rules == nil {
		return
	}
	s.rules.Store(rules)
	s.logger.Info("Pattern rule set replaced", zap.Strings("order", rules.IDs()))
}

// NEREnabled reports whether the service has a model gateway.
func (s *Service) NEREnabled() bool {
	return s.gateway != nil
}

// Anonymize returns text with every detected piece of personal data replaced.
func (s *Service) Anonymize(ctx context.Context, text string) (string, error) {
	res, err := s.AnonymizeResult(ctx, text)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// AnonymizeResult redacts text and reports how it was done.
//
// Entities found by the recognizer are replaced first. If the recognizer is
// unavailable for any reason the request continues with patterns only. The
// pattern pass always runs and its failure is returned.
func (s *Service) AnonymizeResult(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.ErrEmptyInput
	}
	start := time.Now()
	s.count(func(st *Stats) { st.Requests++ })

	res := &Result{Text: text, Mode: ModePatterns}
	var nerLabels []string

	outcome := s.recognize(ctx, text)
	if outcome.Available() {
		redacted, err := redact.ApplyEntities(text, outcome.Entities)
		if err != nil {
			outcome = Outcome{Reason: fmt.Errorf("%w: %v", errs.ErrInference, err)}
		} else {
			res.Text = redacted
			res.Mode = ModeNERPatterns
			res.EntityCount = len(outcome.Entities)
			nerLabels = entities.Labels(outcome.Entities)
			s.count(func(st *Stats) { st.NERApplied++ })
		}
	}
	if !outcome.Available() {
		res.FallbackReason = s.fallback(ctx, outcome.Reason)
	}

	processed, err := s.Rules().Process(res.Text)
	if err != nil {
		s.logger.Error("Pattern pass failed",
			zap.String("request_id", logger.RequestIDFromContext(ctx)),
			zap.Error(err),
		)
		return nil, err
	}
	res.Text = processed.MaskedText
	for _, f := range processed.Findings {
		res.Replacements += f.Count
	}
	res.DetectedLabels = union(nerLabels, processed.Categories())

	s.emit(ctx, Event{
		Operation:      OperationAnonymize,
		Mode:           res.Mode,
		Labels:         res.DetectedLabels,
		InputBytes:     len(text),
		EntityCount:    res.EntityCount,
		Replacements:   res.Replacements,
		Duration:       time.Since(start),
		FallbackReason: res.FallbackReason,
	})
	return res, nil
}

// DetectedTypes returns the sorted set of labels found in text without
// modifying it. Blank input yields an empty list. Labels from the recognizer
// are omitted when it is unavailable.
func (s *Service) DetectedTypes(ctx context.Context, text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	start := time.Now()
	s.count(func(st *Stats) { st.Detections++ })

	var nerLabels []string
	mode := ModePatterns
	reason := ""
	outcome := s.recognize(ctx, text)
	if outcome.Available() {
		nerLabels = entities.Labels(outcome.Entities)
		mode = ModeNERPatterns
	} else {
		reason = s.fallback(ctx, outcome.Reason)
	}

	labels := union(nerLabels, s.Rules().Detect(text))
	s.emit(ctx, Event{
		Operation:      OperationDetect,
		Mode:           mode,
		Labels:         labels,
		InputBytes:     len(text),
		EntityCount:    len(outcome.Entities),
		Duration:       time.Since(start),
		FallbackReason: reason,
	})
	return labels
}

// HasPersonalInfo reports whether any rule or entity matches text. Pattern
// rules are checked first so the recognizer only runs when they find nothing.
func (s *Service) HasPersonalInfo(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if s.Rules().Contains(text) {
		return true
	}
	outcome := s.recognize(ctx, text)
	if !outcome.Available() {
		s.fallback(ctx, outcome.Reason)
		return false
	}
	return len(outcome.Entities) > 0
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.FallbackReasons = make(map[string]int64, len(s.stats.FallbackReasons))
	for k, v := range s.stats.FallbackReasons {
		st.FallbackReasons[k] = v
	}
	return st
}

// recognize runs the NER path and never fails; problems become the outcome's
// reason.
func (s *Service) recognize(ctx context.Context, text string) Outcome {
	if s.gateway == nil {
		return Outcome{Reason: errs.ErrNERDisabled}
	}

	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, text)
		if err != nil {
			s.count(func(st *Stats) { st.CacheErrors++ })
			s.logger.Warn("Entity cache lookup failed", zap.Error(err))
		} else if ok {
			s.count(func(st *Stats) { st.CacheHits++ })
			return Outcome{Entities: entities.Normalize(raw, len(text), s.minScore)}
		}
	}

	recognizer, err := s.gateway.Acquire(ctx)
	if err != nil {
		return Outcome{Reason: err}
	}

	raw, err := recognizer.Infer(ctx, text, ner.InferOptions{AggregationStrategy: ner.AggregationSimple})
	if err != nil {
		return Outcome{Reason: fmt.Errorf("%w: %v", errs.ErrInference, err)}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, text, raw); err != nil {
			s.count(func(st *Stats) { st.CacheErrors++ })
			s.logger.Warn("Entity cache store failed", zap.Error(err))
		}
	}

	return Outcome{Entities: entities.Normalize(raw, len(text), s.minScore)}
}

// fallback records a degraded request and returns the reason type. A disabled
// recognizer is not a failure and is neither logged nor counted.
func (s *Service) fallback(ctx context.Context, reason error) string {
	if errors.Is(reason, errs.ErrNERDisabled) {
		return ""
	}
	kind := ReasonType(reason)
	s.count(func(st *Stats) {
		st.Fallbacks++
		st.FallbackReasons[kind]++
	})
	s.logger.Warn("NER unavailable, using pattern-only redaction",
		zap.String("request_id", logger.RequestIDFromContext(ctx)),
		zap.String("reason", kind),
		zap.Error(reason),
	)
	return kind
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.auditor == nil && s.publisher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.RequestID = logger.RequestIDFromContext(ctx)
	ev.Timestamp = time.Now().UTC()

	if s.auditor != nil {
		if err := s.auditor.Record(ctx, ev); err != nil {
			s.count(func(st *Stats) { st.SinkErrors++ })
			s.logger.Warn("Failed to record audit event",
				zap.String("event_id", ev.ID),
				zap.Error(err),
			)
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}

func (s *Service) count(fn func(st *Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// union merges label lists into a sorted set.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, l := range list {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
