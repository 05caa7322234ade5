package ner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxWordChars mirrors BERT: longer words become a single [UNK].
const maxWordChars = 100

// Tokenizer is a cased WordPiece tokenizer that keeps byte offsets for every
// token so predictions can be mapped back onto the original text.
type Tokenizer struct {
	Vocab     map[string]int64
	MaxLength int

	unkID, clsID, sepID int64
}

// TokenizedInput represents tokenized text ready for model inference
type TokenizedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Offsets       [][2]int // byte offsets, {0,0} for special tokens
	Special       []bool
	Truncated     bool
}

// Len returns the sequence length including special tokens
func (t *TokenizedInput) Len() int {
	return len(t.InputIDs)
}

// NewTokenizer creates a tokenizer over vocab. The vocabulary must contain
// [UNK], [CLS] and [SEP].
func NewTokenizer(vocab map[string]int64, maxLength int) (*Tokenizer, error) {
	t := &Tokenizer{Vocab: vocab, MaxLength: maxLength}
	for token, dst := range map[string]*int64{"[UNK]": &t.unkID, "[CLS]": &t.clsID, "[SEP]": &t.sepID} {
		id, ok := vocab[token]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", token)
		}
		*dst = id
	}
	if maxLength < 3 {
		return nil, fmt.Errorf("max length must be at least 3, got %d", maxLength)
	}
	return t, nil
}

// LoadVocab reads a vocab.txt file, one token per line, id = line number.
func LoadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	return vocab, nil
}

// LoadLabels reads the id to label table. A .json path is read as a model
// config.json with an id2label object; anything else as one label per line.
func LoadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var cfg struct {
			ID2Label map[string]string `json:"id2label"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(cfg.ID2Label) == 0 {
			return nil, fmt.Errorf("%s has no id2label", path)
		}
		ids := make([]int, 0, len(cfg.ID2Label))
		for k := range cfg.ID2Label {
			id, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%s: bad label id %q", path, k)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)
		labels := make([]string, len(ids))
		for i, id := range ids {
			if id != i {
				return nil, fmt.Errorf("%s: label ids are not contiguous", path)
			}
			labels[i] = cfg.ID2Label[strconv.Itoa(id)]
		}
		return labels, nil
	}

	var labels []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			labels = append(labels, line)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%s has no labels", path)
	}
	return labels, nil
}

// Tokenize converts text to token IDs with offsets. The text is not lowercased.
func (t *Tokenizer) Tokenize(text string) (*TokenizedInput, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot tokenize empty text")
	}

	in := &TokenizedInput{}
	in.add(t.clsID, [2]int{0, 0}, true)

	limit := t.MaxLength - 1 // room for [SEP]
	for _, w := range splitWords(text) {
		pieces := t.wordPiece(text[w[0]:w[1]], w[0])
		if in.Len()+len(pieces) > limit {
			in.Truncated = true
			break
		}
		for _, p := range pieces {
			in.add(p.id, p.span, false)
		}
	}

	in.add(t.sepID, [2]int{0, 0}, true)
	return in, nil
}

func (in *TokenizedInput) add(id int64, span [2]int, special bool) {
	in.InputIDs = append(in.InputIDs, id)
	in.AttentionMask = append(in.AttentionMask, 1)
	in.TokenTypeIDs = append(in.TokenTypeIDs, 0)
	in.Offsets = append(in.Offsets, span)
	in.Special = append(in.Special, special)
}

type piece struct {
	id   int64
	span [2]int
}

// wordPiece splits one word greedily, longest match first.
func (t *Tokenizer) wordPiece(word string, base int) []piece {
	if utf8.RuneCountInString(word) > maxWordChars {
		return []piece{{t.unkID, [2]int{base, base + len(word)}}}
	}

	var pieces []piece
	start := 0
	for start < len(word) {
		end := len(word)
		found := int64(-1)
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.Vocab[sub]; ok {
				found = id
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if found < 0 {
			return []piece{{t.unkID, [2]int{base, base + len(word)}}}
		}
		pieces = append(pieces, piece{found, [2]int{base + start, base + end}})
		start = end
	}
	return pieces
}

// splitWords returns byte spans of words. Whitespace separates words and every
// punctuation or symbol rune is a word of its own.
func splitWords(text string) [][2]int {
	var words [][2]int
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				words = append(words, [2]int{start, i})
				start = -1
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if start >= 0 {
				words = append(words, [2]int{start, i})
				start = -1
			}
			_, size := utf8.DecodeRuneInString(text[i:])
			words = append(words, [2]int{i, i + size})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		words = append(words, [2]int{start, len(text)})
	}
	return words
}
