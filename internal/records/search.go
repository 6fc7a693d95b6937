package records

import (
	"context"
	"iter"
	"sort"
	"strings"

	"minicrm/internal/model"
	"minicrm/internal/relation"
)

type Match struct {
	*View
	Score int `json:"score"`
}

// Results is a ranked search result. All can be ranged over any number of times and
// yields the same sequence each time.
type Results struct {
	table   *model.Table
	ranked  []*model.Record
	scores  map[string]int
	display func(*model.Table, *model.Record) *View
}

func (r *Results) Len() int { return len(r.ranked) }

// All yields matches by descending score, then ascending id. Views are built lazily.
func (r *Results) All() iter.Seq[Match] {
	return func(yield func(Match) bool) {
		for _, rec := range r.ranked {
			if !yield(Match{View: r.display(r.table, rec), Score: r.scores[rec.ID]}) {
				return
			}
		}
	}
}

// Search matches every term of query (case-insensitive substring) against the searchable
// columns of the table. A record's score is the total number of term hits.
func (s *Service) Search(ctx context.Context, tableKey, query string) (*Results, error) {
	sc := s.schemas.Current()
	t, err := s.table(sc, tableKey)
	if err != nil {
		return nil, err
	}
	res := &Results{table: t, scores: map[string]int{}, display: s.view}

	terms := strings.Fields(strings.ToLower(query))
	var cols []*model.Column
	for _, c := range t.Columns {
		if c.Searchable {
			cols = append(cols, c)
		}
	}
	if len(terms) == 0 || len(cols) == 0 {
		return res, nil
	}

	all, err := s.loadAll(ctx, t)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		texts := make([]string, 0, len(cols))
		for _, c := range cols {
			texts = append(texts, strings.ToLower(relation.Text(rec.Data[c.Name])))
		}
		score := 0
		matchedAll := true
		for _, term := range terms {
			hits := 0
			for _, txt := range texts {
				hits += strings.Count(txt, term)
			}
			if hits == 0 {
				matchedAll = false
				break
			}
			score += hits
		}
		if matchedAll {
			res.ranked = append(res.ranked, rec)
			res.scores[rec.ID] = score
		}
	}
	sort.SliceStable(res.ranked, func(i, j int) bool {
		a, b := res.ranked[i], res.ranked[j]
		if res.scores[a.ID] != res.scores[b.ID] {
			return res.scores[a.ID] > res.scores[b.ID]
		}
		return a.ID < b.ID
	})
	return res, nil
}
