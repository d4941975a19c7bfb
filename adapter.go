package flowengine

import (
	"fmt"

	"github.com/flowengine/flowengine/bench"
	"github.com/flowengine/flowengine/record"
)

// EngineBackend adapts a committed Engine to bench.Backend, so the
// benchmark harness can drive the engine itself as one of its targets
// (spec.md §6's target-adapter API; out-of-scope SQL/cache adapters live
// outside this module, per spec.md §1).
//
// ArticleTable/VoteTable/ViewName must name nodes already committed via
// AddBase/AddOperator+Commit: article and vote base tables and a
// materialized article-with-vote-count view, e.g. the awvc join built in
// package examples.
type EngineBackend struct {
	eng         *Engine
	articleName string
	voteName    string
	viewName    string
}

// NewEngineBackend wraps eng for the benchmark harness.
func NewEngineBackend(eng *Engine, articleTable, voteTable, viewName string) *EngineBackend {
	return &EngineBackend{eng: eng, articleName: articleTable, voteName: voteTable, viewName: viewName}
}

func (b *EngineBackend) Putter() (bench.Putter, error) {
	article, ok := b.eng.WriterByName(b.articleName)
	if !ok {
		return nil, fmt.Errorf("flowengine: no base table %q committed", b.articleName)
	}
	vote, ok := b.eng.WriterByName(b.voteName)
	if !ok {
		return nil, fmt.Errorf("flowengine: no base table %q committed", b.voteName)
	}
	return &enginePutter{article: article, vote: vote}, nil
}

func (b *EngineBackend) Getter() (bench.Getter, error) {
	read, ok := b.eng.ReaderByName(b.viewName)
	if !ok {
		return nil, fmt.Errorf("flowengine: no materialized view %q committed", b.viewName)
	}
	return &engineGetter{read: read}, nil
}

type enginePutter struct {
	article Writer
	vote    Writer
}

func (p *enginePutter) Article(id int64, title string) error {
	_, err := p.article(record.Tuple{record.Int(id), record.Text(title)})
	return err
}

func (p *enginePutter) Vote(user, id int64) error {
	_, err := p.vote(record.Tuple{record.Int(user), record.Int(id)})
	return err
}

type engineGetter struct {
	read Reader
}

// Get assumes the view emits rows shaped (id, title, vote_count), the
// awvc projection of spec.md §8.
func (g *engineGetter) Get(id int64) (bench.ArticleVoteCount, bool, error) {
	rows, err := g.read(&record.Query{Conditions: []record.Condition{
		{Column: 0, Cmp: record.Eq, Value: record.Int(id)},
	}})
	if err != nil {
		return bench.ArticleVoteCount{}, false, err
	}
	if len(rows) == 0 {
		return bench.ArticleVoteCount{}, false, nil
	}
	row := rows[0]
	var votes int64
	if !row[2].IsNull() {
		votes = row[2].Int64()
	}
	return bench.ArticleVoteCount{
		ID:        row[0].Int64(),
		Title:     row[1].String(),
		VoteCount: votes,
	}, true, nil
}
