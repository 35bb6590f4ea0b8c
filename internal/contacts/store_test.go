package contacts

import (
	"reflect"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":          DefaultName,
		"   ":       DefaultName,
		" Maria ":   "Maria",
		"João Lima": "João Lima",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTagIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: []string{}},
		{raw: "1,2,3", want: []string{"1", "2", "3"}},
		{raw: " 4 , ,4,5 ", want: []string{"4", "5"}},
	}
	for _, tt := range tests {
		if got := ParseTagIDs(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTagIDs(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}
