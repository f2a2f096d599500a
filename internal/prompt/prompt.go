// Package prompt renders the few-shot prompt that steers the title model.
package prompt

import (
	"fmt"
	"strings"
)

// DefaultCharLimit is used when a run does not set a character limit.
const DefaultCharLimit = 28

// MaxCharLimit is the largest limit the form accepts.
const MaxCharLimit = 60

// Separator terminates each example's short title so the model learns
// where a title ends.
const Separator = "-="

// RowSuffix follows the rendered context of every row prompt.
const RowSuffix = " Short title: "

// Example is a hand-edited (context, short title) pair.
type Example struct {
	// Values holds the context column values keyed by column name.
	Values     map[string]string `json:"values"`
	ShortTitle string            `json:"short_title"`
}

// CharCount returns the length of the short title in characters.
func (e Example) CharCount() int {
	return len([]rune(e.ShortTitle))
}

// Input is everything the prompt base depends on.
type Input struct {
	Industry    string
	ProductType string
	CharLimit   int
	// Columns fixes the order context values are rendered in.
	Columns  []string
	Examples []Example
}

// RenderContext renders a row as {col: value, col2: value2} in column order.
// Missing values render as empty strings.
func RenderContext(columns []string, values map[string]string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(": ")
		b.WriteString(values[c])
	}
	b.WriteByte('}')
	return b.String()
}

// ColumnValuesDict is the per-row "Context: {...}" string stored alongside
// each sub-table row.
func ColumnValuesDict(columns []string, values map[string]string) string {
	return "Context: " + RenderContext(columns, values)
}

// BuildBase renders the preamble followed by one block per example.
// The output is a pure function of in.
func BuildBase(in Input) string {
	limit := in.CharLimit
	if limit <= 0 {
		limit = DefaultCharLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a leading digital marketer working for a top %s company. ", in.Industry)
	fmt.Fprintf(&b, "You are an expert at generating high-performing short search ad titles ensuring that the ad titles only contain the important %s information ", in.ProductType)
	fmt.Fprintf(&b, "while keeping the title as short as possible and always less than %d characters long. ", limit)
	fmt.Fprintf(&b, "A user needs your help to shorten these %s titles. Generate Short Title using the given \"Context\".\n", in.ProductType)
	fmt.Fprintf(&b, "When you're done, check the length of the suggested %s title, and if it's longer than %d characters try to make it even shorter by removing more words.\n", in.ProductType, limit)

	for _, ex := range in.Examples {
		b.WriteString("\nContext:\n")
		b.WriteString(RenderContext(in.Columns, ex.Values))
		b.WriteString("\nShort Title: ")
		b.WriteString(ex.ShortTitle)
		b.WriteString(Separator)
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderRow renders the full prompt for one row, matching the prompt column
// the partitioner writes into each sub-table.
func RenderRow(base string, columns []string, values map[string]string) string {
	return base + ColumnValuesDict(columns, values) + RowSuffix
}

// CleanTitle trims a model completion down to the title text.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, Separator); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
