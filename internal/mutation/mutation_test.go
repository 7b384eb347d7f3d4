package mutation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/pipeline"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/source"
	"github.com/cabb/almabatch/internal/store"
)

const (
	collA = CollectionRelationPrefix + "81313013130004641"
	collB = CollectionRelationPrefix + "81342586470004641"
)

func bib(id string, fields ...string) []byte {
	var meta strings.Builder
	meta.WriteString(`<record xmlns:dc="http://purl.org/dc/elements/1.1/">`)
	meta.WriteString("\n  <dc:title>Title " + id + "</dc:title>")
	for _, f := range fields {
		meta.WriteString("\n  " + f)
	}
	meta.WriteString("\n</record>")

	var sb strings.Builder
	sb.WriteString("<bib><mms_id>" + id + "</mms_id><title>Title " + id + "</title><anies><anie>")
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	sb.WriteString(r.Replace(meta.String()))
	sb.WriteString("</anie></anies></bib>")
	return []byte(sb.String())
}

func rel(v string) string { return "<dc:relation>" + v + "</dc:relation>" }

func parse(t *testing.T, data []byte) *record.Record {
	t.Helper()
	rec, err := record.Parse("", data)
	require.NoError(t, err)
	return rec
}

func values(t *testing.T, rec *record.Record, sel record.Selector) []string {
	t.Helper()
	nodes, err := rec.Occurrences(sel)
	require.NoError(t, err)
	return texts(nodes)
}

func TestApply_ClearCollectionRelations(t *testing.T) {
	rec := parse(t, bib("1", rel(collA), rel("http://example.org/other"), rel(collB)))
	rule := ClearCollectionRelations()

	change, err := Apply(rec, rule)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeChanged, change.Outcome)
	assert.Equal(t, []string{collA, "http://example.org/other", collB}, change.Before)
	assert.Equal(t, []string{"http://example.org/other"}, change.After)

	again, err := Apply(rec, rule)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeNoOp, again.Outcome)
	assert.False(t, again.Modified())
}

func TestApply_Replace(t *testing.T) {
	const target = "https://hdl.handle.net/11084/1"
	legacy := PrefixMatcher("http://hdl.handle.net/")
	field := record.DC("identifier")

	tests := []struct {
		name        string
		fields      []string
		addIfAbsent bool
		want        pipeline.Outcome
		wantAfter   []string
	}{
		{
			name:      "legacy rewritten and extras removed",
			fields:    []string{"<dc:identifier>http://hdl.handle.net/a</dc:identifier>", "<dc:identifier>local:1</dc:identifier>", "<dc:identifier>http://hdl.handle.net/b</dc:identifier>"},
			want:      pipeline.OutcomeChanged,
			wantAfter: []string{target, "local:1"},
		},
		{
			name:      "target present drops legacy",
			fields:    []string{"<dc:identifier>http://hdl.handle.net/a</dc:identifier>", "<dc:identifier>" + target + "</dc:identifier>"},
			want:      pipeline.OutcomeDuplicatesRemoved,
			wantAfter: []string{target},
		},
		{
			name:      "duplicate targets collapse",
			fields:    []string{"<dc:identifier>" + target + "</dc:identifier>", "<dc:identifier>" + target + "</dc:identifier>"},
			want:      pipeline.OutcomeDuplicatesRemoved,
			wantAfter: []string{target},
		},
		{
			name:      "target alone is a no-op",
			fields:    []string{"<dc:identifier>" + target + "</dc:identifier>"},
			want:      pipeline.OutcomeNoOp,
			wantAfter: []string{target},
		},
		{
			name:        "absent field added",
			addIfAbsent: true,
			want:        pipeline.OutcomeAdded,
			wantAfter:   []string{target},
		},
		{
			name:      "absent field left alone without add",
			want:      pipeline.OutcomeNoOp,
			wantAfter: []string{},
		},
		{
			name:        "unrelated values are not replaced or added to",
			fields:      []string{"<dc:identifier>local:1</dc:identifier>"},
			addIfAbsent: true,
			want:        pipeline.OutcomeNoOp,
			wantAfter:   []string{"local:1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := parse(t, bib("1", tt.fields...))
			rule := Rule{Field: field, Target: target, Legacy: legacy, AddIfAbsent: tt.addIfAbsent}

			change, err := Apply(rec, rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, change.Outcome)
			assert.Equal(t, tt.wantAfter, values(t, rec, field))

			// A second application never changes anything.
			again, err := Apply(rec, rule)
			require.NoError(t, err)
			assert.Equal(t, pipeline.OutcomeNoOp, again.Outcome)
		})
	}
}

func TestApply_SurvivesRoundTrip(t *testing.T) {
	rec := parse(t, bib("1", rel(collA)))
	_, err := Apply(rec, ClearCollectionRelations())
	require.NoError(t, err)

	data, err := rec.Marshal()
	require.NoError(t, err)
	reread := parse(t, data)
	assert.Empty(t, values(t, reread, record.DC("relation")))
	assert.Equal(t, []string{"Title 1"}, values(t, reread, record.DC("title")))
}

func TestRule_Validate(t *testing.T) {
	m := PrefixMatcher("x")
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "preset", rule: ClearCollectionRelations()},
		{name: "replace", rule: Rule{Field: record.DC("type"), Target: "Image", Legacy: m}},
		{name: "add only", rule: Rule{Field: record.DC("type"), Target: "Image", AddIfAbsent: true}},
		{name: "no field", rule: Rule{Target: "x"}, wantErr: true},
		{name: "bib field", rule: Rule{Field: record.Bib("title"), Target: "x"}, wantErr: true},
		{name: "removal without matcher", rule: Rule{Field: record.DC("type")}, wantErr: true},
		{name: "add empty", rule: Rule{Field: record.DC("type"), Legacy: m, AddIfAbsent: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPatternMatcher(t *testing.T) {
	m, err := PatternMatcher(`^alma:\d+_INST/`)
	require.NoError(t, err)
	assert.True(t, m("alma:01_INST/bibs"))
	assert.False(t, m("other"))

	_, err = PatternMatcher("(")
	require.ErrorIs(t, err, ErrInvalidRule)
}

func TestLookupPreset(t *testing.T) {
	rule, err := LookupPreset(PresetClearCollectionRelations)
	require.NoError(t, err)
	assert.Equal(t, record.DC("relation"), rule.Field)

	_, err = LookupPreset("nope")
	require.ErrorIs(t, err, ErrUnknownPreset)
	assert.Contains(t, err.Error(), PresetClearCollectionRelations)
	assert.Equal(t, []string{PresetClearCollectionRelations}, PresetNames())
}

func runEdit(t *testing.T, m *store.Memory, op *Operation, ids []string) pipeline.Summary {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Fetch.Sleep = func(context.Context, time.Duration) error { return nil }
	r, err := pipeline.NewRunner(m, cfg)
	require.NoError(t, err)
	col := &source.Collection{IDs: ids, Origin: "test", EffectiveTotal: len(ids)}
	sum, err := r.Run(context.Background(), col, op)
	require.NoError(t, err)
	return sum
}

func TestOperation_Idempotent(t *testing.T) {
	m := store.NewMemory()
	m.Put("1", bib("1", rel(collA)))
	m.Put("2", bib("2", rel("keep")))
	m.Put("3", bib("3", rel(collA), rel(collB)))

	op, err := NewOperation(m, ClearCollectionRelations())
	require.NoError(t, err)
	assert.Equal(t, "edit "+PresetClearCollectionRelations, op.Name())

	ids := []string{"1", "2", "3", "4"}
	first := runEdit(t, m, op, ids)
	assert.Equal(t, 2, first.Counters.ByOutcome[pipeline.OutcomeChanged])
	assert.Equal(t, 1, first.Counters.ByOutcome[pipeline.OutcomeNoOp])
	assert.Equal(t, 1, first.Counters.Absent)
	assert.Equal(t, []string{"1", "3"}, m.Writes())

	second := runEdit(t, m, op, ids)
	assert.Zero(t, second.Counters.ByOutcome[pipeline.OutcomeChanged])
	assert.Equal(t, 3, second.Counters.ByOutcome[pipeline.OutcomeNoOp])
	assert.Len(t, m.Writes(), 2)
}

func TestOperation_DryRun(t *testing.T) {
	m := store.NewMemory()
	m.Put("1", bib("1", rel(collA)))

	op, err := NewOperation(m, ClearCollectionRelations())
	require.NoError(t, err)
	op.WithDryRun(true).WithAudit(true)
	assert.Contains(t, op.Name(), "dry run")

	sink := &rowSink{}
	cfg := pipeline.DefaultConfig()
	r, err := pipeline.NewRunner(m, cfg)
	require.NoError(t, err)
	r.WithSink(sink)

	sum, err := r.Run(context.Background(), &source.Collection{IDs: []string{"1"}}, op)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counters.ByOutcome[pipeline.OutcomeChanged])
	assert.Empty(t, m.Writes())

	require.Len(t, sink.rows, 1)
	row := sink.rows[0]
	assert.Equal(t, "1", row.Get(extract.ColumnMMSID))
	assert.Equal(t, "changed", row.Get(ColumnOutcome))
	assert.Equal(t, collA, row.Get(ColumnBefore))
	assert.Empty(t, row.Get(ColumnAfter))

	// Stored document is untouched.
	rec, err := m.FetchOne(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{collA}, values(t, rec, record.DC("relation")))
}

func TestOperation_WriteFailureIsFailedOutcome(t *testing.T) {
	m := store.NewMemory()
	for _, id := range []string{"1", "2", "3"} {
		m.Put(id, bib(id, rel(collA)))
	}
	m.FailWrite = func(id string) error {
		if id == "2" {
			return &store.StatusError{Op: "write " + id, Status: http.StatusConflict}
		}
		return nil
	}

	op, err := NewOperation(m, ClearCollectionRelations())
	require.NoError(t, err)
	sum := runEdit(t, m, op, []string{"1", "2", "3"})

	assert.Equal(t, pipeline.StateCompleted, sum.State)
	assert.Equal(t, 1, sum.Counters.Failed)
	assert.Equal(t, 2, sum.Counters.Succeeded)
	assert.Equal(t, []string{"1", "3"}, m.Writes())
}

func TestOperation_Refetch(t *testing.T) {
	m := store.NewMemory()
	m.Put("1", bib("1", rel(collA)))

	op, err := NewOperation(m, ClearCollectionRelations())
	require.NoError(t, err)
	op.WithRefetch(true)

	// The batch copy is stale; the fresh copy no longer has the relation.
	stale := parse(t, bib("1", rel(collA)))
	m.Put("1", bib("1"))

	res := op.Apply(context.Background(), "1", stale)
	assert.Equal(t, pipeline.OutcomeNoOp, res.Outcome)
	assert.Equal(t, 1, m.Calls().FetchOne)

	res = op.Apply(context.Background(), "missing", stale)
	assert.Equal(t, pipeline.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Err.Error(), "status 404")
}

func TestOperation_ManyRecords(t *testing.T) {
	m := store.NewMemory()
	ids := make([]string, 0, 2*batch.MaxBatchSize+5)
	for i := range cap(ids) {
		id := fmt.Sprintf("99%04d", i)
		ids = append(ids, id)
		m.Put(id, bib(id, rel(collA)))
	}

	op, err := NewOperation(m, ClearCollectionRelations())
	require.NoError(t, err)
	sum := runEdit(t, m, op, ids)
	assert.Equal(t, len(ids), sum.Counters.Succeeded)
	assert.Equal(t, 3, sum.Counters.Chunks)
	assert.Len(t, m.Writes(), len(ids))
}

type rowSink struct {
	rows []*extract.Row
}

func (s *rowSink) Write(row *extract.Row) error {
	s.rows = append(s.rows, row)
	return nil
}
