package prompt

import (
	"strings"
	"testing"
)

func sampleInput() Input {
	return Input{
		Industry:    "fashion",
		ProductType: "shoe",
		CharLimit:   25,
		Columns:     []string{"name", "brand", "color"},
		Examples: []Example{
			{
				Values:     map[string]string{"name": "Trail Runner Pro Waterproof", "brand": "Acme", "color": "red"},
				ShortTitle: "Acme Trail Runner",
			},
			{
				Values:     map[string]string{"color": "blue", "name": "City Walker Classic", "brand": "Bolt"},
				ShortTitle: "Bolt City Walker",
			},
		},
	}
}

func TestBuildBase_Deterministic(t *testing.T) {
	first := BuildBase(sampleInput())
	for i := 0; i < 20; i++ {
		if got := BuildBase(sampleInput()); got != first {
			t.Fatalf("run %d produced different output", i)
		}
	}
}

func TestBuildBase_Content(t *testing.T) {
	base := BuildBase(sampleInput())

	wants := []string{
		"top fashion company",
		"important shoe information",
		"always less than 25 characters long",
		"\nContext:\n{name: Trail Runner Pro Waterproof, brand: Acme, color: red}\nShort Title: Acme Trail Runner-=\n",
		"\nContext:\n{name: City Walker Classic, brand: Bolt, color: blue}\nShort Title: Bolt City Walker-=\n",
	}
	for _, want := range wants {
		if !strings.Contains(base, want) {
			t.Errorf("prompt base missing %q", want)
		}
	}
	if strings.Contains(base, "Character Count") {
		t.Error("character count must not leak into the prompt")
	}
}

func TestBuildBase_DefaultLimit(t *testing.T) {
	in := sampleInput()
	in.CharLimit = 0
	if base := BuildBase(in); !strings.Contains(base, "less than 28 characters") {
		t.Error("expected fallback limit of 28")
	}
}

func TestRenderContext(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		values  map[string]string
		want    string
	}{
		{"ordered", []string{"b", "a"}, map[string]string{"a": "1", "b": "2"}, "{b: 2, a: 1}"},
		{"missing value", []string{"a", "b"}, map[string]string{"a": "1"}, "{a: 1, b: }"},
		{"empty", nil, nil, "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderContext(tt.columns, tt.values); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderRow(t *testing.T) {
	got := RenderRow("BASE\n", []string{"name"}, map[string]string{"name": "Sneaker"})
	want := "BASE\nContext: {name: Sneaker} Short title: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := map[string]string{
		"  Acme Runner  ":     "Acme Runner",
		"Acme Runner-= extra": "Acme Runner",
		"":                    "",
	}
	for in, want := range tests {
		if got := CleanTitle(in); got != want {
			t.Errorf("CleanTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExample_CharCount(t *testing.T) {
	if got := (Example{ShortTitle: "Café Noir"}).CharCount(); got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}
