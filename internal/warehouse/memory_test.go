package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryWarehouse_ChunkAndAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWarehouse("acme")
	src := TableRef{Project: "acme", Dataset: "feeds", Table: "products"}
	m.PutTable(src, []map[string]any{
		{"name": "Trail Runner", "brand": "Acme"},
		{"name": "City Walker", "brand": nil},
		{"name": "Hiker", "brand": "Bolt"},
	})

	dest := TableRef{Project: "acme", Dataset: "out", Table: "sub_table_0"}
	err := m.CreateChunkTable(ctx, ChunkTableSpec{
		Source: src, Dest: dest, Columns: []string{"name", "brand"},
		PromptBase: "BASE ", Start: 1, End: 2,
	})
	if err != nil {
		t.Fatalf("CreateChunkTable() error = %v", err)
	}

	rows := m.Rows(dest)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got, want := rows[0]["prompt"], "BASE Context: {name: City Walker, brand: } Short title: "; got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}

	results := dest.Sibling("results_0")
	m.PutTable(results, []map[string]any{{"prediction": " Walker "}, {"prediction": "Hiker"}})
	output := dest.Sibling("shrinkify_final")
	if err := m.AppendResults(ctx, AppendSpec{Results: results, Output: output, RunID: "run-a", ChunkIndex: 0}); err != nil {
		t.Fatalf("AppendResults() error = %v", err)
	}

	n, err := m.CountChunkRows(ctx, output, "run-a", 0)
	if err != nil || n != 2 {
		t.Fatalf("CountChunkRows() = %d, %v; want 2", n, err)
	}
	if n, _ := m.CountChunkRows(ctx, output, "run-b", 0); n != 0 {
		t.Errorf("CountChunkRows(other run) = %d, want 0", n)
	}
	var titles []string
	for _, r := range m.Rows(output) {
		titles = append(titles, r["short_title"].(string))
	}
	if diff := cmp.Diff([]string{"Walker", "Hiker"}, titles); diff != "" {
		t.Errorf("short titles mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryWarehouse_DeleteErr(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWarehouse("acme")
	ref := TableRef{Project: "acme", Dataset: "out", Table: "results_0"}
	m.PutTable(ref, nil)

	denied := errors.New("permission denied")
	m.DeleteErr["results_0"] = denied

	if err := m.DeleteTable(ctx, ref); !errors.Is(err, denied) {
		t.Errorf("got %v, want injected error", err)
	}
	if ok, _ := m.TableExists(ctx, ref); !ok {
		t.Error("table should survive a failed delete")
	}

	missing := ref.Sibling("nope")
	if err := m.DeleteTable(ctx, missing); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("got %v, want ErrTableNotFound", err)
	}
}

func TestMemoryWarehouse_SampleRows(t *testing.T) {
	m := NewMemoryWarehouse("acme")
	src := TableRef{Project: "acme", Dataset: "feeds", Table: "products"}
	m.PutTable(src, []map[string]any{{"name": "A", "price": 10}, {"name": "B"}})

	rows, err := m.SampleRows(context.Background(), src, []string{"name", "price"}, 5)
	if err != nil {
		t.Fatalf("SampleRows() error = %v", err)
	}
	want := []Row{{"name": "A", "price": "10"}, {"name": "B", "price": ""}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}
