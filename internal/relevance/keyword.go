package relevance

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

const rowTextField = "text"

// KeywordScorer answers prompts locally: a row is relevant when its cells
// contain every query term. Rows are indexed into an in-memory Bleve index
// with the standard analyzer (lowercased, unicode tokens, English stop words
// dropped). It reads the prompt produced by Request.Prompt, so it needs no
// network access or API key.
type KeywordScorer struct {
	mapping mapping.IndexMapping
}

// NewKeywordScorer returns a KeywordScorer.
func NewKeywordScorer() *KeywordScorer {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt(rowTextField, textFieldMapping)
	im.DefaultMapping = docMapping
	return &KeywordScorer{mapping: im}
}

type rowDoc struct {
	Text string `json:"text"`
}

// Complete returns a JSON array of the matching row numbers found in prompt.
func (k *KeywordScorer) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	query, rows, err := parsePrompt(prompt)
	if err != nil {
		return "", err
	}
	matches := []int{}
	if strings.TrimSpace(query) != "" && len(rows) > 0 {
		matches, err = k.match(ctx, query, rows)
		if err != nil {
			return "", err
		}
	}
	out, err := json.Marshal(matches)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (k *KeywordScorer) match(ctx context.Context, query string, rows map[int][]string) ([]int, error) {
	index, err := bleve.NewMemOnly(k.mapping)
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	defer index.Close()

	batch := index.NewBatch()
	for num, cells := range rows {
		if err := batch.Index(strconv.Itoa(num), rowDoc{Text: strings.Join(cells, " ")}); err != nil {
			return nil, fmt.Errorf("keyword index row %d: %w", num, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(rowTextField)
	q.Analyzer = standard.Name
	q.SetOperator(blevequery.MatchQueryOperatorAnd)
	req := bleve.NewSearchRequest(q)
	req.Size = len(rows)
	res, err := index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	matches := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if num, err := strconv.Atoi(hit.ID); err == nil {
			matches = append(matches, num)
		}
	}
	sort.Ints(matches)
	return matches, nil
}

// parsePrompt extracts the query and the numbered rows from a prompt.
func parsePrompt(prompt string) (string, map[int][]string, error) {
	var (
		query string
		rows  = map[int][]string{}
	)
	sc := bufio.NewScanner(strings.NewReader(prompt))
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, rowLinePrefix):
			num, cells, ok := parseRowLine(line)
			if ok {
				rows[num] = cells
			}
		case strings.HasPrefix(line, queryLinePrefix):
			var q string
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, queryLinePrefix)), &q); err == nil {
				query = q
			}
		}
	}
	return query, rows, sc.Err()
}

func parseRowLine(line string) (int, []string, bool) {
	rest := strings.TrimPrefix(line, rowLinePrefix)
	colon := strings.Index(rest, ": ")
	if colon < 0 {
		return 0, nil, false
	}
	num, err := strconv.Atoi(rest[:colon])
	if err != nil {
		return 0, nil, false
	}
	var cells []string
	if err := json.Unmarshal([]byte(rest[colon+2:]), &cells); err != nil {
		return 0, nil, false
	}
	return num, cells, true
}
