package ner

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/persondata/internal/config"
)

func testVocab() map[string]int64 {
	return map[string]int64{
		"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
		"Peter": 4, "Hans": 5, "##en": 6, "bor": 7, "i": 8,
		"K": 9, "##øbenhavn": 10, ".": 11,
	}
}

func TestTokenizer(t *testing.T) {
	tok, err := NewTokenizer(testVocab(), 32)
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}

	t.Run("WordPiece with offsets", func(t *testing.T) {
		text := "Peter Hansen bor i København."
		in, err := tok.Tokenize(text)
		if err != nil {
			t.Fatal(err)
		}

		wantIDs := []int64{2, 4, 5, 6, 7, 8, 9, 10, 11, 3}
		if !reflect.DeepEqual(in.InputIDs, wantIDs) {
			t.Fatalf("ids = %v, want %v", in.InputIDs, wantIDs)
		}
		wantOffsets := [][2]int{{0, 0}, {0, 5}, {6, 10}, {10, 12}, {13, 16}, {17, 18}, {19, 20}, {20, 29}, {29, 30}, {0, 0}}
		if !reflect.DeepEqual(in.Offsets, wantOffsets) {
			t.Fatalf("offsets = %v, want %v", in.Offsets, wantOffsets)
		}
		if text[in.Offsets[6][0]:in.Offsets[7][1]] != "København" {
			t.Errorf("offsets do not cover København")
		}
		if !in.Special[0] || !in.Special[9] || in.Special[1] {
			t.Errorf("special = %v", in.Special)
		}
		if in.Truncated {
			t.Error("unexpected truncation")
		}
	})

	t.Run("unknown word", func(t *testing.T) {
		in, err := tok.Tokenize("xyz")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(in.InputIDs, []int64{2, 1, 3}) {
			t.Errorf("ids = %v", in.InputIDs)
		}
		if in.Offsets[1] != [2]int{0, 3} {
			t.Errorf("offset = %v", in.Offsets[1])
		}
	})

	t.Run("truncation keeps whole words", func(t *testing.T) {
		short, _ := NewTokenizer(testVocab(), 4)
		in, err := short.Tokenize("Peter Hansen")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(in.InputIDs, []int64{2, 4, 3}) || !in.Truncated {
			t.Errorf("ids = %v truncated = %v", in.InputIDs, in.Truncated)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := tok.Tokenize("  "); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing special token", func(t *testing.T) {
		if _, err := NewTokenizer(map[string]int64{"[UNK]": 0}, 8); err == nil {
			t.Error("expected error")
		}
	})
}

func TestAggregate(t *testing.T) {
	text := "Peter Hansen bor i København"
	preds := []TokenPrediction{
		{Special: true},
		{Label: "B-PER", Score: 0.99, Start: 0, End: 5},
		{Label: "I-PER", Score: 0.98, Start: 6, End: 10},
		{Label: "I-PER", Score: 0.97, Start: 10, End: 12},
		{Label: "O", Score: 0.99, Start: 13, End: 16},
		{Label: "O", Score: 0.99, Start: 17, End: 18},
		{Label: "B-LOC", Score: 0.9, Start: 19, End: 20},
		{Label: "I-LOC", Score: 0.8, Start: 20, End: 29},
		{Special: true},
	}

	got := Aggregate(text, preds)
	if len(got) != 2 {
		t.Fatalf("got %d entities: %+v", len(got), got)
	}

	want := []Entity{
		{EntityGroup: "PER", Score: 0.98, Start: 0, End: 12, Word: "Peter Hansen"},
		{EntityGroup: "LOC", Score: 0.85, Start: 19, End: 29, Word: "København"},
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.EntityGroup != w.EntityGroup || g.Start != w.Start || g.End != w.End || g.Word != w.Word {
			t.Errorf("entity %d = %+v, want %+v", i, g, w)
		}
		if math.Abs(g.Score-w.Score) > 1e-9 {
			t.Errorf("entity %d score = %v, want %v", i, g.Score, w.Score)
		}
	}

	t.Run("B tag starts a new entity", func(t *testing.T) {
		got := Aggregate("Anna Bo", []TokenPrediction{
			{Label: "B-PER", Score: 0.9, Start: 0, End: 4},
			{Label: "B-PER", Score: 0.9, Start: 5, End: 7},
		})
		if len(got) != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("type change starts a new entity", func(t *testing.T) {
		got := Aggregate("Novo Nordisk", []TokenPrediction{
			{Label: "B-ORG", Score: 0.9, Start: 0, End: 4},
			{Label: "I-LOC", Score: 0.9, Start: 5, End: 12},
		})
		if len(got) != 2 || got[1].EntityGroup != "LOC" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestPredict(t *testing.T) {
	in := &TokenizedInput{
		InputIDs: []int64{2, 4},
		Offsets:  [][2]int{{0, 0}, {0, 5}},
		Special:  []bool{true, false},
	}
	labels := []string{"O", "B-PER", "I-PER"}
	logits := []float32{
		5, 0, 0,
		0, 3, 0,
	}

	preds := Predict(in, logits, labels)
	if len(preds) != 2 {
		t.Fatalf("got %d predictions", len(preds))
	}
	if preds[0].Label != "O" || !preds[0].Special {
		t.Errorf("pred 0 = %+v", preds[0])
	}
	if preds[1].Label != "B-PER" || preds[1].Start != 0 || preds[1].End != 5 {
		t.Errorf("pred 1 = %+v", preds[1])
	}
	// softmax(3, 0, 0)[0]
	want := math.Exp(3) / (math.Exp(3) + 2)
	if math.Abs(preds[1].Score-want) > 1e-6 {
		t.Errorf("score = %v, want %v", preds[1].Score, want)
	}
}

func TestLoadVocabAndLabels(t *testing.T) {
	dir := t.TempDir()

	vocabPath := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(vocabPath, []byte("[PAD]\n[UNK]\n[CLS]\n[SEP]\nPeter\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		t.Fatal(err)
	}
	if vocab["Peter"] != 4 || vocab["[CLS]"] != 2 {
		t.Errorf("vocab = %v", vocab)
	}

	txt := filepath.Join(dir, "labels.txt")
	if err := os.WriteFile(txt, []byte("O\nB-PER\nI-PER\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	labels, err := LoadLabels(txt)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(labels, []string{"O", "B-PER", "I-PER"}) {
		t.Errorf("labels = %v", labels)
	}

	js := filepath.Join(dir, "config.json")
	if err := os.WriteFile(js, []byte(`{"id2label":{"0":"O","2":"I-LOC","1":"B-LOC"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	labels, err = LoadLabels(js)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(labels, []string{"O", "B-LOC", "I-LOC"}) {
		t.Errorf("labels = %v", labels)
	}

	gap := filepath.Join(dir, "gap.json")
	if err := os.WriteFile(gap, []byte(`{"id2label":{"0":"O","2":"I-LOC"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLabels(gap); err == nil {
		t.Error("expected error for non-contiguous ids")
	}
}

type recorded struct {
	mu   sync.Mutex
	reqs []inferRequest
}

func (r *recorded) first() inferRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[0]
}

func newSidecar(t *testing.T, entities []Entity) (*httptest.Server, *recorded) {
	t.Helper()
	seen := &recorded{}

	mux := http.NewServeMux()
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model == "broken" {
			http.Error(w, "no such model", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ner", func(w http.ResponseWriter, r *http.Request) {
		var req inferRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, req)
		seen.mu.Unlock()
		_ = json.NewEncoder(w).Encode(inferResponse{Entities: entities})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestHTTPLoader(t *testing.T) {
	// rune offsets as reported by the sidecar
	text := "Søren bor i Århus"
	srv, seen := newSidecar(t, []Entity{
		{EntityGroup: "PER", Score: 0.99, Start: 0, End: 5, Word: "Søren"},
		{EntityGroup: "LOC", Score: 0.95, Start: 12, End: 17, Word: "Århus"},
	})

	t.Run("rune offsets converted", func(t *testing.T) {
		var progress []string
		loader := NewHTTPLoader(srv.URL+"/", "runes", zap.NewNop())
		rec, err := loader.Load(context.Background(), "Xenova/bert-base-multilingual-cased-ner-hrl", LoadOptions{
			Quantized: true,
			Progress:  func(p Progress) { progress = append(progress, p.Status) },
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !reflect.DeepEqual(progress, []string{"initiate", "ready"}) {
			t.Errorf("progress = %v", progress)
		}

		got, err := rec.Infer(context.Background(), text, InferOptions{})
		if err != nil {
			t.Fatalf("Infer: %v", err)
		}
		if text[got[0].Start:got[0].End] != "Søren" || text[got[1].Start:got[1].End] != "Århus" {
			t.Errorf("byte offsets wrong: %+v", got)
		}
		if seen.first().AggregationStrategy != AggregationSimple {
			t.Errorf("aggregation = %q", seen.first().AggregationStrategy)
		}
	})

	t.Run("byte offsets passed through", func(t *testing.T) {
		loader := NewHTTPLoader(srv.URL, "bytes", nil)
		rec, err := loader.Load(context.Background(), "m", LoadOptions{})
		if err != nil {
			t.Fatal(err)
		}
		got, _ := rec.Infer(context.Background(), text, InferOptions{AggregationStrategy: AggregationSimple})
		if got[1].Start != 12 || got[1].End != 17 {
			t.Errorf("got %+v", got[1])
		}
	})

	t.Run("load failure", func(t *testing.T) {
		loader := NewHTTPLoader(srv.URL, "runes", nil)
		if _, err := loader.Load(context.Background(), "broken", LoadOptions{}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("load honors context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		loader := NewHTTPLoader(srv.URL, "runes", nil)
		if _, err := loader.Load(ctx, "m", LoadOptions{}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRuneToByteOffsets(t *testing.T) {
	text := "Æbler"
	got := runeToByteOffsets(text, []Entity{
		{Start: 0, End: 1},
		{Start: 1, End: 5},
		{Start: 2, End: 9},
	})
	if got[0].End != 2 || got[1].Start != 2 || got[1].End != 6 {
		t.Errorf("got %+v", got)
	}
	if got[2].End <= len(text) {
		t.Errorf("out of range end must stay out of range, got %d", got[2].End)
	}
}

func TestNewLoader(t *testing.T) {
	cfg := config.GetDefaults().Model

	t.Run("http", func(t *testing.T) {
		l, err := NewLoader(cfg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := l.(*HTTPLoader); !ok {
			t.Errorf("got %T", l)
		}
	})

	t.Run("onnx", func(t *testing.T) {
		c := cfg
		c.Loader = "onnx"
		if _, err := NewLoader(c, nil); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		c := cfg
		c.Loader = "grpc"
		if _, err := NewLoader(c, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("http without endpoint", func(t *testing.T) {
		c := cfg
		c.Endpoint = ""
		if _, err := NewLoader(c, nil); err == nil {
			t.Error("expected error")
		}
	})
}
