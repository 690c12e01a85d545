package tensor

import (
	"math"
	"testing"
)

func mustNew(t *testing.T, data []float32, shape []int64) *Tensor {
	t.Helper()

	x, err := New(data, shape)
	if err != nil {
		t.Fatalf("New(%v): %v", shape, err)
	}

	return x
}

func assertData(t *testing.T, got *Tensor, wantShape []int64, want []float32) {
	t.Helper()

	if !equalShape(got.Shape(), wantShape) {
		t.Fatalf("shape = %v, want %v", got.Shape(), wantShape)
	}

	data := got.RawData()
	if len(data) != len(want) {
		t.Fatalf("len = %d, want %d", len(data), len(want))
	}

	for i := range want {
		if math.Abs(float64(data[i]-want[i])) > 1e-6 {
			t.Fatalf("data[%d] = %v, want %v (all: %v)", i, data[i], want[i], data)
		}
	}
}

func TestNewRejectsMismatchedLength(t *testing.T) {
	if _, err := New([]float32{1, 2, 3}, []int64{2, 2}); err == nil {
		t.Fatal("expected error for data/shape mismatch")
	}

	if _, err := New(nil, []int64{-1}); err == nil {
		t.Fatal("expected error for negative dimension")
	}
}

func TestNewCopiesInputs(t *testing.T) {
	data := []float32{1, 2}
	shape := []int64{2}
	x := mustNew(t, data, shape)

	data[0] = 99
	shape[0] = 7

	assertData(t, x, []int64{2}, []float32{1, 2})
}

func TestFromRowsAndRows(t *testing.T) {
	x, err := FromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}

	assertData(t, x, []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	rows, err := x.Rows()
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}

	if len(rows) != 2 || rows[1][2] != 6 {
		t.Fatalf("rows = %v", rows)
	}

	if _, err := FromRows([][]float32{{1}, {1, 2}}); err == nil {
		t.Fatal("expected ragged rows error")
	}
}

func TestNarrow(t *testing.T) {
	x := mustNew(t, []float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
	}, []int64{2, 4})

	got, err := x.Narrow(1, 1, 2)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}

	assertData(t, got, []int64{2, 2}, []float32{1, 2, 5, 6})

	if _, err := x.Narrow(1, 3, 2); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestTranspose(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3, 4, 5, 6}, []int64{1, 2, 3})

	got, err := x.Transpose(1, 2)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}

	assertData(t, got, []int64{1, 3, 2}, []float32{1, 4, 2, 5, 3, 6})
}

func TestConcatLastDim(t *testing.T) {
	a := mustNew(t, []float32{1, 2, 3, 4}, []int64{1, 2, 2})
	b := mustNew(t, []float32{10, 20}, []int64{1, 2, 1})

	got, err := Concat([]*Tensor{a, b}, -1)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}

	assertData(t, got, []int64{1, 2, 3}, []float32{1, 2, 10, 3, 4, 20})

	c := mustNew(t, []float32{1, 2, 3}, []int64{1, 3, 1})
	if _, err := Concat([]*Tensor{a, c}, -1); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestPadLast(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3, 4}, []int64{2, 2})

	got, err := x.PadLast(1, 2)
	if err != nil {
		t.Fatalf("PadLast: %v", err)
	}

	assertData(t, got, []int64{2, 5}, []float32{0, 1, 2, 0, 0, 0, 3, 4, 0, 0})

	if _, err := x.PadLast(-1, 0); err == nil {
		t.Fatal("expected negative pad error")
	}
}

func TestLinearMatchesManual(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3, 4}, []int64{2, 2})
	w := mustNew(t, []float32{1, 0, 0, 1, 1, 1}, []int64{3, 2})
	b := mustNew(t, []float32{0.5, -0.5, 0}, []int64{3})

	for _, workers := range []int{1, 2, 8} {
		got, err := LinearN(x, w, b, workers)
		if err != nil {
			t.Fatalf("LinearN(workers=%d): %v", workers, err)
		}

		assertData(t, got, []int64{2, 3}, []float32{1.5, 1.5, 3, 3.5, 3.5, 7})
	}

	bad := mustNew(t, []float32{1, 2, 3}, []int64{1, 3})
	if _, err := Linear(x, bad, nil); err == nil {
		t.Fatal("expected linear shape mismatch")
	}
}

func TestReLUAndAdd(t *testing.T) {
	x := mustNew(t, []float32{-1, 0, 2}, []int64{3})
	assertData(t, ReLU(x), []int64{3}, []float32{0, 0, 2})

	sum, err := Add(x, x)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	assertData(t, sum, []int64{3}, []float32{-2, 0, 4})
}

func TestDotProductAndDistance(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{5, 4, 3, 2, 1}

	if got := DotProduct(a, b); got != 35 {
		t.Fatalf("DotProduct = %v, want 35", got)
	}

	if got := SquaredDistance(a, b); got != 40 {
		t.Fatalf("SquaredDistance = %v, want 40", got)
	}
}

func TestEqual(t *testing.T) {
	a := mustNew(t, []float32{1, 2}, []int64{2})
	b := a.Clone()

	if !Equal(a, b) {
		t.Fatal("clone should be equal")
	}

	c := mustNew(t, []float32{1, 2}, []int64{1, 2})
	if Equal(a, c) {
		t.Fatal("different shapes should not be equal")
	}
}
