package relevance

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/pkg/utils"
	"go.uber.org/zap"
)

var codeFence = regexp.MustCompile("```(?:json|JSON)?")

// ParseIndices extracts the row numbers from a service reply. The reply may be
// wrapped in a markdown code fence or surrounded by prose. It fails with
// ErrMalformedResponse when the reply is empty, not JSON, not an array, or
// holds anything other than numbers. Non-integral numbers name no row and are dropped.
func ParseIndices(raw string) ([]int, error) {
	text := strings.TrimSpace(codeFence.ReplaceAllString(raw, ""))
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		start, end := strings.IndexByte(text, '['), strings.LastIndexByte(text, ']')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	values, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrMalformedResponse, v)
	}
	out := make([]int, 0, len(values))
	for i, e := range values {
		n, ok := e.(float64)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("%w: element %d is not a number", ErrMalformedResponse, i)
		}
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			continue
		}
		out = append(out, int(n))
	}
	return out, nil
}

// Validator turns a chunk reply into the set of valid global row numbers.
type Validator struct {
	logger *zap.Logger
}

// NewValidator returns a Validator. logger may be nil.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// Indices returns the row numbers in raw that fall inside chunk; numbers
// outside the chunk are dropped. A malformed reply is logged and yields an
// empty, non-nil set together with the parse error, which callers only count.
func (v *Validator) Indices(raw string, chunk models.Chunk) ([]int, error) {
	parsed, err := ParseIndices(raw)
	if err != nil {
		v.logger.Warn("discarding relevance reply",
			zap.Int("first_row", chunk.First()),
			zap.Int("last_row", chunk.Last()),
			zap.String("raw", utils.Truncate(raw, 200)),
			zap.Error(err),
		)
		return []int{}, err
	}
	out := make([]int, 0, len(parsed))
	dropped := 0
	for _, i := range parsed {
		if !chunk.Contains(i) {
			dropped++
			continue
		}
		out = append(out, i)
	}
	if dropped > 0 {
		v.logger.Debug("dropped out-of-range row numbers",
			zap.Int("first_row", chunk.First()),
			zap.Int("last_row", chunk.Last()),
			zap.Int("dropped", dropped),
		)
	}
	return out, nil
}
