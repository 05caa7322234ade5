package entities

import (
	"reflect"
	"testing"

	"github.com/raaihank/persondata/internal/ner"
)

func spans(list []Entity) [][2]int {
	out := make([][2]int, len(list))
	for i, e := range list {
		out[i] = [2]int{e.Start, e.End}
	}
	return out
}

func TestNormalize(t *testing.T) {
	const textLen = 40

	t.Run("score threshold is exclusive", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.7, Start: 0, End: 5},
			{EntityGroup: "PER", Score: 0.71, Start: 10, End: 15},
			{EntityGroup: "PER", Score: 0.2, Start: 20, End: 25},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{10, 15}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("invalid spans dropped", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.9, Start: -1, End: 3},
			{EntityGroup: "PER", Score: 0.9, Start: 4, End: 4},
			{EntityGroup: "PER", Score: 0.9, Start: 8, End: 6},
			{EntityGroup: "PER", Score: 0.9, Start: 35, End: 41},
			{EntityGroup: "PER", Score: 0.9, Start: 35, End: 40},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{35, 40}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("labels canonicalized", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.9, Start: 0, End: 2},
			{EntityGroup: "B-LOC", Score: 0.9, Start: 3, End: 5},
			{EntityGroup: "ORG", Score: 0.9, Start: 6, End: 8},
			{EntityGroup: "GPE", Score: 0.9, Start: 9, End: 11},
			{EntityGroup: "MISC", Score: 0.9, Start: 12, End: 14},
		}, textLen, DefaultMinScore)

		want := []string{"MISC", LabelLocation, LabelOrganization, LabelLocation, LabelPerson}
		var labels []string
		for _, e := range got {
			labels = append(labels, e.Label)
			if e.Source != SourceNER {
				t.Errorf("source = %q", e.Source)
			}
		}
		if !reflect.DeepEqual(labels, want) {
			t.Errorf("labels = %v, want %v", labels, want)
		}
	})

	t.Run("rightmost first", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.9, Start: 0, End: 5},
			{EntityGroup: "LOC", Score: 0.9, Start: 20, End: 29},
			{EntityGroup: "ORG", Score: 0.9, Start: 10, End: 15},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{20, 29}, {10, 15}, {0, 5}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("widest span wins at the same start", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.9, Start: 0, End: 5},
			{EntityGroup: "PER", Score: 0.8, Start: 0, End: 12},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{0, 12}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("nested span dropped", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "LOC", Score: 0.9, Start: 6, End: 12},
			{EntityGroup: "ORG", Score: 0.9, Start: 0, End: 20},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{0, 20}}) || got[0].Label != LabelOrganization {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("partial overlap drops the later entity", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.99, Start: 5, End: 12},
			{EntityGroup: "LOC", Score: 0.75, Start: 0, End: 8},
			{EntityGroup: "ORG", Score: 0.9, Start: 10, End: 18},
		}, textLen, DefaultMinScore)
		// [0,8) is kept; [5,12) starts inside it; [10,18) no longer overlaps anything kept
		if !reflect.DeepEqual(spans(got), [][2]int{{10, 18}, {0, 8}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("adjacent spans both kept", func(t *testing.T) {
		got := Normalize([]ner.Entity{
			{EntityGroup: "PER", Score: 0.9, Start: 0, End: 5},
			{EntityGroup: "PER", Score: 0.9, Start: 5, End: 10},
		}, textLen, DefaultMinScore)
		if !reflect.DeepEqual(spans(got), [][2]int{{5, 10}, {0, 5}}) {
			t.Errorf("got %v", spans(got))
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := Normalize(nil, textLen, DefaultMinScore); len(got) != 0 {
			t.Errorf("got %v", got)
		}
	})
}

func TestCanonicalLabel(t *testing.T) {
	tests := map[string]string{
		"PER":          LabelPerson,
		"I-PER":        LabelPerson,
		"person":       LabelPerson,
		"LOC":          LabelLocation,
		"Location":     LabelLocation,
		"ORG":          LabelOrganization,
		"ORGANIZATION": LabelOrganization,
		"DATE":         "DATE",
		"B-MISC":       "B-MISC",
	}
	for in, want := range tests {
		if got := CanonicalLabel(in); got != want {
			t.Errorf("CanonicalLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLabels(t *testing.T) {
	got := Labels([]Entity{
		{Label: LabelLocation}, {Label: LabelPerson}, {Label: LabelLocation},
	})
	if !reflect.DeepEqual(got, []string{LabelLocation, LabelPerson}) {
		t.Errorf("got %v", got)
	}
}
