package steps

import (
	"context"
	"testing"

	"orgpulse/internal/report"
)

func TestPePyStepSkipsWithoutAPIKey(t *testing.T) {
	rep := report.New()
	rep.Ensure("alpha")

	out, err := PePyDownloads().Run(context.Background(), rep, newBareEnv())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	rec, _ := out.Get("alpha")
	if rec.TotalDownloadCount != 0 {
		t.Fatalf("skipped step must not touch records")
	}
}
