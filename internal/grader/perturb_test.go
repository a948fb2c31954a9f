package grader

import (
	"reflect"
	"testing"
)

func TestPerturbDeterministic(t *testing.T) {
	rs := ResultSet{Columns: []string{"id", "amount"}}
	for i := 0; i < 200; i++ {
		rs.Rows = append(rs.Rows, []any{int64(i), float64(i) * 10})
	}

	a := Perturb(rs, 0.015, 42)
	b := Perturb(rs, 0.015, 42)
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different variants")
	}

	c := Perturb(rs, 0.015, 43)
	if reflect.DeepEqual(a, c) {
		t.Error("different seeds produced identical variants")
	}
}

func TestPerturbChangesFraction(t *testing.T) {
	rs := ResultSet{Columns: []string{"id", "amount"}}
	for i := 0; i < 200; i++ {
		rs.Rows = append(rs.Rows, []any{int64(i), float64(i) * 10})
	}

	variant := Perturb(rs, 0.015, 1)

	changed := 0
	for i := range rs.Rows {
		if !reflect.DeepEqual(rs.Rows[i], variant.Rows[i]) {
			changed++
		}
	}
	if changed != 3 { // 200 * 0.015
		t.Errorf("changed rows = %d, want 3", changed)
	}
}

func TestPerturbDoesNotMutateInput(t *testing.T) {
	rs := ResultSet{
		Columns: []string{"n"},
		Rows:    rows([]any{int64(1)}, []any{int64(2)}),
	}
	orig := ResultSet{
		Columns: []string{"n"},
		Rows:    rows([]any{int64(1)}, []any{int64(2)}),
	}

	_ = Perturb(rs, 0.5, 7)
	if !reflect.DeepEqual(rs, orig) {
		t.Error("Perturb mutated its input")
	}
}

func TestPerturbSmallDataset(t *testing.T) {
	rs := ResultSet{Columns: []string{"n"}, Rows: rows([]any{int64(5)})}

	variant := Perturb(rs, 0.015, 9)
	if reflect.DeepEqual(rs.Rows, variant.Rows) {
		t.Error("at least one row must change even for tiny datasets")
	}
}

func TestPerturbTextFallback(t *testing.T) {
	rs := ResultSet{
		Columns: []string{"name"},
		Rows:    rows([]any{"alice"}, []any{"bob"}),
	}

	variant := Perturb(rs, 0.5, 3)
	if reflect.DeepEqual(rs.Rows, variant.Rows) {
		t.Error("text column not perturbed when no numeric column exists")
	}
}
