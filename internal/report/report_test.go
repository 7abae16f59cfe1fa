package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecordAccumulatesOnlyValidCounts(t *testing.T) {
	var r RunReport
	r.Mode = "enhanced"
	r.Started = time.Now()

	r.Record(StoreResult{URL: "a", IsValid: true, IsAutomoto: true, New: 3, Used: 2, Test: 1})
	r.Record(StoreResult{URL: "b", IsValid: false})
	r.Record(StoreResult{URL: "c", IsValid: true, IsAutomoto: false})

	if r.Visited != 3 {
		t.Fatalf("visited = %d, want 3", r.Visited)
	}
	if r.Valid != 2 {
		t.Fatalf("valid = %d, want 2", r.Valid)
	}
	if r.Automoto != 1 {
		t.Fatalf("automoto = %d, want 1", r.Automoto)
	}
	if r.SumNew != 3 || r.SumUsed != 2 || r.SumTest != 1 {
		t.Fatalf("sums = new:%d used:%d test:%d, want 3/2/1", r.SumNew, r.SumUsed, r.SumTest)
	}
}

func TestPrintSummaryContainsKeyFields(t *testing.T) {
	r := RunReport{Mode: "tunnel", Duration: 90 * time.Second, Visited: 5, Valid: 4, Automoto: 3, SumNew: 10}
	var sb strings.Builder
	PrintSummary(&sb, r)

	out := sb.String()
	for _, want := range []string{"tunnel", "Stores visited:    5", "Auto-moto stores:  3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q, got:\n%s", want, out)
		}
	}
}

func TestWriteCSVProducesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	r := RunReport{}
	r.Record(StoreResult{URL: "https://x/trgovina/a", IsValid: true, IsAutomoto: true, New: 5, DeltaTotal: 2})

	if err := WriteCSV(path, r); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "url,is_valid") {
		t.Fatalf("missing header, got: %s", content)
	}
	if !strings.Contains(content, "https://x/trgovina/a,true,true,5,0,0,2") {
		t.Fatalf("missing expected row, got: %s", content)
	}
}
