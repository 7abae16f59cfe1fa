package report

import (
	"encoding/csv"
	"fmt"
	"os"
)

// WriteCSV dumps the run's per-store results to path, one row per visited
// store, adapted from the teacher's flat CSV export.
func WriteCSV(path string, r RunReport) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	header := []string{"url", "is_valid", "is_automoto", "new", "used", "test", "delta_total"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}

	for _, res := range r.Results {
		record := []string{
			res.URL,
			boolStr(res.IsValid),
			boolStr(res.IsAutomoto),
			itoa(res.New),
			itoa(res.Used),
			itoa(res.Test),
			itoa(res.DeltaTotal),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
