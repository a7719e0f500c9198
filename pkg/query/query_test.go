package query_test

import (
	"reflect"
	"testing"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/query"
)

func auditProjection() *query.ProjectionMap {
	return query.NewProjectionMap("audit_entries", "a").
		Project("id", "ID").
		Project("actor", "Actor").
		Project("operation", "Operation").
		Project("entity_kind", "EntityKind").
		Project("occurred_at", "OccurredAt")
}

const auditSelect = "SELECT a.id, a.actor, a.operation, a.entity_kind, a.occurred_at FROM audit_entries a"

func TestProjectionMap(t *testing.T) {
	p := auditProjection()

	if got := p.Table(); got != "audit_entries a" {
		t.Errorf("Table() = %s", got)
	}
	if got := p.Column("Actor"); got != "a.actor" {
		t.Errorf("Column(Actor) = %s", got)
	}
	if got := p.Column("unmapped"); got != "unmapped" {
		t.Errorf("Column(unmapped) = %s", got)
	}
	if !p.Has("Operation") || p.Has("Payload") {
		t.Error("Has() mismatch")
	}
	if got := p.Select(); got != auditSelect {
		t.Errorf("Select() = %s", got)
	}
}

func TestBuild(t *testing.T) {
	actor := "dr-a"
	var archived *bool

	tests := []struct {
		name     string
		build    func(b *query.Builder) (string, []any)
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no conditions uses default sort",
			build:   func(b *query.Builder) (string, []any) { return b.Build() },
			wantSQL: auditSelect + " ORDER BY a.occurred_at DESC",
		},
		{
			name: "equals skips typed nil",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereEquals("Actor", &actor).WhereEquals("EntityKind", archived).BuildCount()
			},
			wantSQL:  "SELECT COUNT(*) FROM audit_entries a WHERE a.actor = ?",
			wantArgs: []any{&actor},
		},
		{
			name: "conditions are and-ed in order",
			build: func(b *query.Builder) (string, []any) {
				return b.WhereEquals("Operation", "create").WhereEquals("EntityKind", "patient").Build()
			},
			wantSQL:  auditSelect + " WHERE a.operation = ? AND a.entity_kind = ? ORDER BY a.occurred_at DESC",
			wantArgs: []any{"create", "patient"},
		},
		{
			name: "page with client sort drops unknown fields",
			build: func(b *query.Builder) (string, []any) {
				return b.OrderByFields(query.ParseSortFields("Actor,-bogus;DROP")).BuildPage(3, 20)
			},
			wantSQL: auditSelect + " ORDER BY a.actor ASC LIMIT 20 OFFSET 40",
		},
		{
			name: "only unknown sort fields drop the order clause",
			build: func(b *query.Builder) (string, []any) {
				return b.OrderByFields(query.ParseSortFields("-Payload")).BuildPage(1, 10)
			},
			wantSQL: auditSelect + " LIMIT 10 OFFSET 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := query.NewBuilder(auditProjection(), query.SortField{Field: "OccurredAt", Descending: true})
			sql, args := tt.build(b)

			if sql != tt.wantSQL {
				t.Errorf("sql:\n got %s\nwant %s", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args: got %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestParseSortFields(t *testing.T) {
	got := query.ParseSortFields("CreatedAt, -Status,,")
	want := []query.SortField{{Field: "CreatedAt"}, {Field: "Status", Descending: true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseSortFields = %v, want %v", got, want)
	}
	if query.ParseSortFields("") != nil {
		t.Error("empty input should return nil")
	}
}
