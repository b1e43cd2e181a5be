package index

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// Boosts applied to query clauses.
const (
	TitleBoost   = 5.0
	ContentBoost = 1.0
)

// ClauseKind is the shape of one scoring clause.
type ClauseKind int

// Clause kinds.
const (
	TermClause ClauseKind = iota
	PhraseClause
)

// Clause is one Should clause of a search.
type Clause struct {
	Kind  ClauseKind
	Field string
	Text  string
	Boost float64
}

// Plan lowercases q, splits it on whitespace and returns the scoring
// clauses: title and content phrases when there is more than one term,
// then a content and a title clause per term.
func Plan(q string) []Clause {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 {
		return nil
	}
	var clauses []Clause
	if len(terms) > 1 {
		phrase := strings.Join(terms, " ")
		clauses = append(clauses,
			Clause{Kind: PhraseClause, Field: FieldTitle, Text: phrase, Boost: TitleBoost},
			Clause{Kind: PhraseClause, Field: FieldContent, Text: phrase, Boost: TitleBoost},
		)
	}
	for _, term := range terms {
		clauses = append(clauses,
			Clause{Kind: TermClause, Field: FieldContent, Text: term, Boost: ContentBoost},
			Clause{Kind: TermClause, Field: FieldTitle, Text: term, Boost: TitleBoost},
		)
	}
	return clauses
}

// BuildQuery turns a plan into a bleve query. Every clause is a Should of
// one Must; lens scoping adds a second Must matching any lens tag.
func BuildQuery(q string, lenses []string) query.Query {
	clauses := Plan(q)
	if len(clauses) == 0 {
		return bleve.NewMatchNoneQuery()
	}

	should := bleve.NewBooleanQuery()
	for _, c := range clauses {
		switch c.Kind {
		case PhraseClause:
			pq := bleve.NewMatchPhraseQuery(c.Text)
			pq.SetField(c.Field)
			pq.SetBoost(c.Boost)
			should.AddShould(pq)
		default:
			tq := bleve.NewTermQuery(c.Text)
			tq.SetField(c.Field)
			tq.SetBoost(c.Boost)
			should.AddShould(tq)
		}
	}

	root := bleve.NewBooleanQuery()
	root.AddMust(should)
	if len(lenses) > 0 {
		scope := make([]query.Query, 0, len(lenses))
		for _, lens := range lenses {
			tq := bleve.NewTermQuery(crawler.LensTag(lens).String())
			tq.SetField(FieldTags)
			scope = append(scope, tq)
		}
		root.AddMust(bleve.NewDisjunctionQuery(scope...))
	}
	return root
}
