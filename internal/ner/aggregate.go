package ner

import (
	"math"
	"strings"
)

// TokenPrediction is the model's best label for one token.
type TokenPrediction struct {
	Label   string
	Score   float64
	Start   int
	End     int
	Special bool
}

// Predict picks the most likely label for every token from a flat logits
// slice of shape [tokens, len(labels)].
func Predict(in *TokenizedInput, logits []float32, labels []string) []TokenPrediction {
	n := len(labels)
	preds := make([]TokenPrediction, 0, in.Len())
	for i := 0; i < in.Len() && (i+1)*n <= len(logits); i++ {
		best, score := softmaxArgmax(logits[i*n : (i+1)*n])
		preds = append(preds, TokenPrediction{
			Label:   labels[best],
			Score:   score,
			Start:   in.Offsets[i][0],
			End:     in.Offsets[i][1],
			Special: in.Special[i],
		})
	}
	return preds
}

func softmaxArgmax(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	return best, 1 / sum
}

// splitTag splits a BIO tag into its prefix and entity type.
func splitTag(label string) (string, string) {
	if len(label) > 2 && (label[0] == 'B' || label[0] == 'I') && label[1] == '-' {
		return label[:1], label[2:]
	}
	return "I", label
}

// Aggregate merges token predictions with the "simple" strategy: consecutive
// tokens of the same type form one entity unless a B- tag starts a new one.
// The entity score is the mean of its token scores.
func Aggregate(text string, preds []TokenPrediction) []Entity {
	var (
		out     []Entity
		current *Entity
		scores  float64
		tokens  int
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Score = scores / float64(tokens)
		if current.Start >= 0 && current.End <= len(text) && current.Start < current.End {
			current.Word = text[current.Start:current.End]
		}
		out = append(out, *current)
		current = nil
	}

	for _, p := range preds {
		if p.Special || strings.EqualFold(p.Label, "O") {
			flush()
			continue
		}

		prefix, typ := splitTag(p.Label)
		if current != nil && current.EntityGroup == typ && prefix != "B" {
			current.End = p.End
			scores += p.Score
			tokens++
			continue
		}

		flush()
		current = &Entity{EntityGroup: typ, Start: p.Start, End: p.End}
		scores = p.Score
		tokens = 1
	}
	flush()

	return out
}
