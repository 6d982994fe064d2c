package keyword

import (
	"reflect"
	"testing"
)

func TestTokens(t *testing.T) {
	got := Tokens("Reunión: Exam-prep (2026) / CLASE")
	want := []string{"reunión", "exam", "prep", "2026", "clase"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokens = %q, want %q", got, want)
	}
}

func TestMatch(t *testing.T) {
	keywords := []string{"exam", "class", "event", "clase"}
	cases := []struct {
		text string
		want bool
	}{
		{"Final exam", true},
		{"Two exams", true},
		{"Evening classes", true},
		{"Clases de baile", true},
		{"Team-event", true},
		{"Send example report", false},
		{"classify invoices", false},
		{"Prevent outage", false},
		{"eventually", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Match(Tokens(tc.text), keywords); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
