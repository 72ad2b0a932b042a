package memory

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "so": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "what": {}, "with": {}, "you": {}, "your": {},
}

// index is an inverted TF-IDF index over archived turns. Documents are
// addressed by their position in the archive.
type index struct {
	docs     []map[string]int
	postings map[string][]int
}

type hit struct {
	doc   int
	score float64
}

func newIndex() *index {
	return &index{postings: make(map[string][]int)}
}

func (ix *index) add(text string) {
	doc := len(ix.docs)
	tf := termCounts(tokenize(text))
	ix.docs = append(ix.docs, tf)
	for term := range tf {
		ix.postings[term] = append(ix.postings[term], doc)
	}
}

func (ix *index) idf(term string) float64 {
	n := float64(len(ix.docs))
	df := float64(len(ix.postings[term]))
	return math.Log((n+1)/(df+1)) + 1
}

// search ranks documents by cosine similarity to query. newer reports
// whether doc a should win a tie against doc b.
func (ix *index) search(query string, k int, newer func(a, b int) bool) []hit {
	qtf := termCounts(tokenize(query))
	if len(qtf) == 0 || len(ix.docs) == 0 {
		return nil
	}

	qvec := make(map[string]float64, len(qtf))
	var qnorm float64
	candidates := map[int]struct{}{}
	for term, c := range qtf {
		w := float64(c) * ix.idf(term)
		qvec[term] = w
		qnorm += w * w
		for _, d := range ix.postings[term] {
			candidates[d] = struct{}{}
		}
	}
	qnorm = math.Sqrt(qnorm)

	hits := make([]hit, 0, len(candidates))
	for d := range candidates {
		var dot, dnorm float64
		for term, c := range ix.docs[d] {
			w := float64(c) * ix.idf(term)
			dnorm += w * w
			dot += w * qvec[term]
		}
		if dot <= 0 || dnorm == 0 {
			continue
		}
		hits = append(hits, hit{doc: d, score: roundScore(dot / (qnorm * math.Sqrt(dnorm)))})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return newer(hits[i].doc, hits[j].doc)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// roundScore drops float noise from map iteration order so equal documents tie.
func roundScore(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termCounts(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
