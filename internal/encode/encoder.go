// internal/encode/encoder.go
package encode

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Config - encoder dimensions and cache policy.
type Config struct {
	InputDim  int           `yaml:"input_dim"`
	OutputDim int           `yaml:"output_dim"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Encoder - deterministic text vectorizer. Prompts hash into InputDim
// buckets ("context" space), tasks into OutputDim buckets ("query" space),
// both via signed feature hashing over unigrams and bigrams, L2-normalized.
// The same text always produces the same vector.
type Encoder struct {
	cfg   Config
	lower cases.Caser
	cache *gocache.Cache
}

func New(cfg Config) *Encoder {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Encoder{
		cfg:   cfg,
		lower: cases.Lower(language.Und),
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (e *Encoder) InputDim() int  { return e.cfg.InputDim }
func (e *Encoder) OutputDim() int { return e.cfg.OutputDim }

// EncodePrompt - context vector for a prompt text.
func (e *Encoder) EncodePrompt(text string) []float64 {
	return e.encode("ctx", text, e.cfg.InputDim)
}

// EncodeTask - query vector for a task text.
func (e *Encoder) EncodeTask(text string) []float64 {
	return e.encode("qry", text, e.cfg.OutputDim)
}

func (e *Encoder) encode(space, text string, dim int) []float64 {
	key := fmt.Sprintf("%s:%d:%s", space, dim, text)
	if v, ok := e.cache.Get(key); ok {
		return append([]float64(nil), v.([]float64)...)
	}

	vec := make([]float64, dim)
	tokens := tokenize(e.normalize(text))
	for i, tok := range tokens {
		addFeature(vec, space+"|"+tok)
		if i > 0 {
			addFeature(vec, space+"|"+tokens[i-1]+"_"+tok)
		}
	}
	if n := l2(vec); n > 0 {
		for i := range vec {
			vec[i] /= n
		}
	}

	e.cache.Set(key, vec, gocache.DefaultExpiration)
	return append([]float64(nil), vec...)
}

// addFeature - signed hashing: one hash picks the bucket, a spare bit picks
// the sign, which keeps colliding features from accumulating bias.
func addFeature(vec []float64, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}

func (e *Encoder) normalize(text string) string {
	return e.lower.String(norm.NFKC.String(text))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func l2(vec []float64) float64 {
	sum := 0.0
	for _, v := range vec {
		sum += v * v
	}
	return math.Sqrt(sum)
}
