package warehouse

import (
	"fmt"
	"strings"
)

// rowNumberColumn numbers source rows inside the chunk query. It is never
// selected into the sub-table.
const rowNumberColumn = "shrinkify_rownum"

// contextExpr renders 'Context: {col: value, col2: value2}' for a row.
func contextExpr(columns []string) string {
	parts := make([]string, 0, len(columns)*2)
	for i, c := range columns {
		sep := ", "
		if i == 0 {
			sep = ""
		}
		parts = append(parts, fmt.Sprintf("'%s%s: '", sep, c))
		parts = append(parts, fmt.Sprintf("IFNULL(CAST(`%s` AS STRING), '')", c))
	}
	return "CONCAT('Context: {', " + strings.Join(parts, ", ") + ", '}')"
}

// ChunkTableSQL builds the query that materializes one sub-table. It expects
// the parameters @prompt_base, @start and @end, plus @request_config when
// spec.RequestConfig is set.
func ChunkTableSQL(spec ChunkTableSpec) (string, error) {
	if err := validateColumns(spec.Columns); err != nil {
		return "", err
	}
	quoted := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		quoted[i] = "`" + c + "`"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "WITH numbered AS (\n")
	fmt.Fprintf(&b, "  SELECT t.*, ROW_NUMBER() OVER (ORDER BY FARM_FINGERPRINT(TO_JSON_STRING(t))) - 1 AS %s\n", rowNumberColumn)
	fmt.Fprintf(&b, "  FROM %s AS t\n", spec.Source.Quoted())
	fmt.Fprintf(&b, "),\nrendered AS (\n")
	fmt.Fprintf(&b, "  SELECT %s,\n    %s AS column_values_dict\n", strings.Join(quoted, ", "), contextExpr(spec.Columns))
	fmt.Fprintf(&b, "  FROM numbered\n  WHERE %s BETWEEN @start AND @end\n", rowNumberColumn)
	fmt.Fprintf(&b, "),\nprompted AS (\n")
	fmt.Fprintf(&b, "  SELECT *, CONCAT(@prompt_base, column_values_dict, ' Short title: ') AS prompt\n")
	fmt.Fprintf(&b, "  FROM rendered\n)\n")
	if spec.RequestConfig != "" {
		b.WriteString("SELECT *,\n  TO_JSON(STRUCT(\n")
		b.WriteString("    [STRUCT('user' AS role, [STRUCT(prompt AS text)] AS parts)] AS contents,\n")
		b.WriteString("    PARSE_JSON(@request_config) AS generationConfig\n")
		b.WriteString("  )) AS request\nFROM prompted")
	} else {
		b.WriteString("SELECT * FROM prompted")
	}
	return b.String(), nil
}

// AppendSQL builds the query whose result is appended to the output table.
// It expects the parameters @run_id and @chunk_index.
func AppendSQL(spec AppendSpec) string {
	return fmt.Sprintf(
		"SELECT *, TRIM(%s) AS short_title, @run_id AS run_id, @chunk_index AS chunk_index FROM %s",
		spec.ShortTitleExpr, spec.Results.Quoted(),
	)
}

// CountChunkRowsSQL counts rows already appended for @run_id and @chunk_index.
func CountChunkRowsSQL(output TableRef) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM %s WHERE run_id = @run_id AND chunk_index = @chunk_index",
		output.Quoted(),
	)
}

// SampleSQL picks @n random rows of the selected columns.
func SampleSQL(ref TableRef, columns []string) (string, error) {
	if err := validateColumns(columns); err != nil {
		return "", err
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = "`" + c + "`"
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY RAND() LIMIT @n", strings.Join(quoted, ", "), ref.Quoted()), nil
}
