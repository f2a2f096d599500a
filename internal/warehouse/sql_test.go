package warehouse

import (
	"errors"
	"strings"
	"testing"
)

func TestTableRef(t *testing.T) {
	ref := TableRef{Project: "acme", Dataset: "shrinkify_output", Table: "sub_table_0"}

	if got := ref.URI(); got != "bq://acme.shrinkify_output.sub_table_0" {
		t.Errorf("URI() = %q", got)
	}
	if got := ref.Quoted(); got != "`acme.shrinkify_output.sub_table_0`" {
		t.Errorf("Quoted() = %q", got)
	}
	if got := ref.Sibling("results_0").String(); got != "acme.shrinkify_output.results_0" {
		t.Errorf("Sibling() = %q", got)
	}
}

func TestChunkTableSQL(t *testing.T) {
	spec := ChunkTableSpec{
		Source:     TableRef{Project: "acme", Dataset: "feeds", Table: "products"},
		Dest:       TableRef{Project: "acme", Dataset: "shrinkify_output", Table: "sub_table_1"},
		Columns:    []string{"name", "brand"},
		PromptBase: "BASE \"\"\" injection '",
		Start:      25000,
		End:        39999,
	}

	sql, err := ChunkTableSQL(spec)
	if err != nil {
		t.Fatalf("ChunkTableSQL() error = %v", err)
	}

	wants := []string{
		"FROM `acme.feeds.products` AS t",
		"ORDER BY FARM_FINGERPRINT(TO_JSON_STRING(t))) - 1",
		"BETWEEN @start AND @end",
		"CONCAT(@prompt_base, column_values_dict, ' Short title: ')",
		"SELECT `name`, `brand`",
		"CONCAT('Context: {', 'name: ', IFNULL(CAST(`name` AS STRING), ''), ', brand: ', IFNULL(CAST(`brand` AS STRING), ''), '}')",
	}
	for _, want := range wants {
		if !strings.Contains(sql, want) {
			t.Errorf("sql missing %q\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "injection") {
		t.Error("prompt base must be passed as a parameter, not spliced")
	}
	if strings.Contains(sql, "request") {
		t.Error("request column should only be built when a request config is set")
	}

	spec.RequestConfig = `{"maxOutputTokens":8}`
	sql, err = ChunkTableSQL(spec)
	if err != nil {
		t.Fatalf("ChunkTableSQL() error = %v", err)
	}
	if !strings.Contains(sql, "PARSE_JSON(@request_config) AS generationConfig") {
		t.Errorf("expected request column, got\n%s", sql)
	}
}

func TestChunkTableSQL_RejectsBadColumns(t *testing.T) {
	for _, cols := range [][]string{nil, {"name; DROP TABLE x"}, {"`name`"}, {"1col"}} {
		_, err := ChunkTableSQL(ChunkTableSpec{Columns: cols})
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("columns %v: got %v, want ErrInvalidIdentifier", cols, err)
		}
	}
}

func TestAppendSQL(t *testing.T) {
	got := AppendSQL(AppendSpec{
		Results:        TableRef{Project: "p", Dataset: "d", Table: "results_3"},
		ShortTitleExpr: "STRING(predictions[0].content)",
	})
	want := "SELECT *, TRIM(STRING(predictions[0].content)) AS short_title, @run_id AS run_id, @chunk_index AS chunk_index FROM `p.d.results_3`"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}
