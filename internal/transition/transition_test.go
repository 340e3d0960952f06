package transition

import "testing"

func TestObserveSkipsFirstDigit(t *testing.T) {
	tr := New()
	tr.Observe(3)
	if tr.Sum() != 0 {
		t.Fatalf("first digit recorded a transition")
	}
	tr.Observe(5)
	tr.Observe(5)
	m := tr.Matrix()
	if m[3][5] != 1 || m[5][5] != 1 {
		t.Fatalf("matrix = %v", m)
	}
}

func TestSumMatchesTicks(t *testing.T) {
	tr := New()
	for i := 0; i < 120; i++ {
		tr.Observe((i * 7) % 10)
		if want := tr.Observed() - 1; tr.Sum() != want {
			t.Fatalf("after %d ticks sum=%d want %d", tr.Observed(), tr.Sum(), want)
		}
	}
}

func TestMatrixIsCopy(t *testing.T) {
	tr := New()
	tr.RecordTransition(1, 2)
	m := tr.Matrix()
	m[1][2] = 99
	if tr.Matrix()[1][2] != 1 {
		t.Fatalf("Matrix exposes internal state")
	}
}

func TestRowAndReset(t *testing.T) {
	tr := New()
	tr.RecordTransition(4, 1)
	tr.RecordTransition(4, 1)
	tr.RecordTransition(4, 8)
	tr.RecordTransition(11, 1)
	row := tr.Row(4)
	if row[1] < 0.66 || row[1] > 0.67 || row[8] < 0.33 || row[8] > 0.34 {
		t.Fatalf("row = %v", row)
	}

	tr.Observe(2)
	tr.Reset()
	if tr.Sum() != 0 || tr.Observed() != 0 {
		t.Fatalf("reset left sum=%d observed=%d", tr.Sum(), tr.Observed())
	}
	tr.Observe(6)
	if tr.Sum() != 0 {
		t.Fatalf("first digit after reset recorded a transition")
	}
}
