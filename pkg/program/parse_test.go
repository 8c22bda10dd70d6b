package program

import (
	"math"
	"testing"

	"chromahost/pkg/errors"
)

func TestParseDuration(t *testing.T) {
	inf := math.Inf(1)
	cases := []struct {
		in   string
		want float64
	}{
		{"2h30m", 9000},
		{"1.2h", 4320},
		{"45s", 45},
		{"90", 90},
		{"1h30m5s", 5405},
		{"1h", 3600},
		{"20m", 1200},
		{"1.5h30m", 7200},
		{"  2H  ", 7200},
		// Zero accumulated time is reinterpreted as unbounded, not as
		// an immediately expiring step.
		{"0s", inf},
		{"", inf},
		{"bogus", inf},
	}
	for _, c := range cases {
		got := ParseDuration(c.in)
		if got != c.want && !(math.IsInf(got, 1) && math.IsInf(c.want, 1)) {
			t.Errorf("ParseDuration(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestParseVolume(t *testing.T) {
	if v, err := ParseVolume("20ml"); err != nil || v != 20 {
		t.Fatalf("ParseVolume(20ml)=%v,%v", v, err)
	}
	if v, err := ParseVolume("12.5"); err != nil || v != 12.5 {
		t.Fatalf("ParseVolume(12.5)=%v,%v", v, err)
	}
	if v, err := ParseVolume(""); err != nil || !math.IsInf(v, 1) {
		t.Fatalf("ParseVolume(\"\")=%v,%v want +Inf", v, err)
	}
	if _, err := ParseVolume("lots"); err == nil {
		t.Fatal("ParseVolume(lots) did not fail")
	}
}

func TestParseFlowRate(t *testing.T) {
	if v, err := ParseFlowRate("1.5ml/min"); err != nil || v != 1.5 {
		t.Fatalf("ParseFlowRate=%v,%v", v, err)
	}
	if v, err := ParseFlowRate("2"); err != nil || v != 2 {
		t.Fatalf("ParseFlowRate(2)=%v,%v", v, err)
	}
}

func TestLowerScenario(t *testing.T) {
	reagents := map[int]string{1: "Water", 2: "Buffer"}
	columns := map[int]string{1: "ColA"}
	specs := []StepSpec{
		{Flush: &FlushStep{Reagent: "Water", Column: "ColA", FlowRate: "1.5", Volume: "10ml"}},
		{Sleep: &SleepStep{Duration: "30s"}},
	}

	steps, err := Lower(specs, reagents, columns)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("len(steps)=%d want 2", len(steps))
	}

	flush := steps[0]
	if flush.ReagentValveID != 0 || flush.ColumnValveID != 0 {
		t.Fatalf("flush valve ids=%d,%d want 0,0", flush.ReagentValveID, flush.ColumnValveID)
	}
	if flush.FlowRate != 1.5 || flush.Volume != 10 || !math.IsInf(float64(flush.Duration), 1) {
		t.Fatalf("flush=%+v", flush)
	}

	sleep := steps[1]
	if sleep.ReagentValveID != SentinelValve || sleep.ColumnValveID != SentinelValve {
		t.Fatalf("sleep valve ids=%d,%d want sentinel", sleep.ReagentValveID, sleep.ColumnValveID)
	}
	if sleep.FlowRate != 0 || !math.IsInf(float64(sleep.Volume), 1) || sleep.Duration != 30 {
		t.Fatalf("sleep=%+v", sleep)
	}

	// The two records pack into one 32-byte block.
	blocks := EncodeBlocks(steps)
	if len(blocks) != 1 || len(blocks[0]) != 32 {
		t.Fatalf("blocks=%d first=%d bytes", len(blocks), len(blocks[0]))
	}
}

func TestLowerUnknownName(t *testing.T) {
	specs := []StepSpec{
		{Flush: &FlushStep{Reagent: "Acetone", Column: "ColA", FlowRate: "1"}},
	}
	_, err := Lower(specs, map[int]string{1: "Water"}, map[int]string{1: "ColA"})
	if !errors.IsCode(err, errors.ErrNameResolution) {
		t.Fatalf("err=%v want NAME_RESOLUTION", err)
	}

	specs[0].Flush.Reagent = "Water"
	specs[0].Flush.Column = "ColB"
	_, err = Lower(specs, map[int]string{1: "Water"}, map[int]string{1: "ColA"})
	if !errors.IsCode(err, errors.ErrNameResolution) {
		t.Fatalf("err=%v want NAME_RESOLUTION", err)
	}
}

func TestLowerDuplicateNameResolvesLowestSlot(t *testing.T) {
	reagents := map[int]string{4: "Water", 2: "Water", 5: "Buffer"}
	columns := map[int]string{3: "ColA", 1: "ColA"}
	specs := []StepSpec{
		{Flush: &FlushStep{Reagent: "Water", Column: "ColA", FlowRate: "1"}},
	}

	// A name present in two slots must resolve to the lowest one,
	// every time.
	for i := 0; i < 20; i++ {
		steps, err := Lower(specs, reagents, columns)
		if err != nil {
			t.Fatalf("Lower: %v", err)
		}
		if steps[0].ReagentValveID != SlotToID(2) {
			t.Fatalf("reagent id=%d want slot 2", steps[0].ReagentValveID)
		}
		if steps[0].ColumnValveID != SlotToID(1) {
			t.Fatalf("column id=%d want slot 1", steps[0].ColumnValveID)
		}
	}
}

func TestLowerEmptyNameNotResolved(t *testing.T) {
	specs := []StepSpec{
		{Flush: &FlushStep{Reagent: "", Column: "ColA", FlowRate: "1"}},
	}
	_, err := Lower(specs, map[int]string{1: "Water"}, map[int]string{1: "ColA"})
	if !errors.IsCode(err, errors.ErrNameResolution) {
		t.Fatalf("err=%v want NAME_RESOLUTION", err)
	}
}

func TestSlotConversions(t *testing.T) {
	if SlotToID(1) != 0 || SlotToID(6) != 5 {
		t.Fatal("SlotToID wrong")
	}
	if IDToSlot(0) != 1 || IDToSlot(5) != 6 {
		t.Fatal("IDToSlot wrong")
	}
}
