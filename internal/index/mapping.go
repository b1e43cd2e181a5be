package index

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Field names in the index.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldContent     = "content"
	FieldURL         = "url"
	FieldDomain      = "domain"
	FieldTags        = "tags"
)

// AnalyzerName is the text analyzer used by the title, description and
// content fields.
const AnalyzerName = "lens_text"

const (
	stopMapName    = "lens_stop_words"
	stopFilterName = "lens_stop"
)

// EnglishStopWords is the default stop list applied after lowercasing.
var EnglishStopWords = []string{
	"a", "about", "an", "and", "are", "as", "at", "be", "but", "by", "com", "for", "from",
	"how", "if", "i", "in", "into", "is", "it", "no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these", "they", "this", "to", "was", "what",
	"when", "where", "who", "will", "with", "www",
}

func newMapping(stopWords []string) (*mapping.IndexMappingImpl, error) {
	if stopWords == nil {
		stopWords = EnglishStopWords
	}
	tokens := make([]interface{}, 0, len(stopWords))
	for _, w := range stopWords {
		tokens = append(tokens, strings.ToLower(w))
	}

	im := bleve.NewIndexMapping()
	if err := im.AddCustomTokenMap(stopMapName, map[string]interface{}{
		"type":   tokenmap.Name,
		"tokens": tokens,
	}); err != nil {
		return nil, fmt.Errorf("register stop words: %w", err)
	}
	if err := im.AddCustomTokenFilter(stopFilterName, map[string]interface{}{
		"type":           stop.Name,
		"stop_token_map": stopMapName,
	}); err != nil {
		return nil, fmt.Errorf("register stop filter: %w", err)
	}
	if err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, stopFilterName},
	}); err != nil {
		return nil, fmt.Errorf("register analyzer: %w", err)
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = AnalyzerName
	text.Store = true
	text.IncludeTermVectors = true

	body := bleve.NewTextFieldMapping()
	body.Analyzer = AnalyzerName
	body.Store = false
	body.IncludeTermVectors = true

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true
	exact.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(FieldTitle, text)
	doc.AddFieldMappingsAt(FieldDescription, text)
	doc.AddFieldMappingsAt(FieldContent, body)
	doc.AddFieldMappingsAt(FieldURL, exact)
	doc.AddFieldMappingsAt(FieldDomain, exact)
	doc.AddFieldMappingsAt(FieldTags, exact)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = AnalyzerName
	return im, nil
}
