package main

import (
	"fmt"
	"os"
	"strings"

	"imgsvc/internal/api"
	"imgsvc/internal/format"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeStructured(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeImageDetail(image api.ImageResponse) error {
	return writePlain("%s\n", formatImageDetail(image))
}

func formatImageDetail(image api.ImageResponse) string {
	lines := []string{
		fmt.Sprintf("id: %s", image.ID),
		fmt.Sprintf("url: %s", image.URL),
		fmt.Sprintf("content_type: %s", image.ContentType),
	}
	return strings.Join(lines, "\n")
}

func formatImageLine(image api.ImageResponse) string {
	return fmt.Sprintf("%s  %s  %s", image.ID, image.ContentType, image.URL)
}

func formatSweepResult(result api.SweepResponse) string {
	mode := "applied"
	if result.DryRun {
		mode = "dry run"
	}
	lines := []string{
		fmt.Sprintf("sweep (%s)", mode),
		fmt.Sprintf("scanned: %d", result.ScannedCount),
		fmt.Sprintf("orphans: %d", result.CandidateCount),
		fmt.Sprintf("skipped_recent: %d", result.SkippedRecent),
		fmt.Sprintf("deleted: %d", result.DeletedCount),
		fmt.Sprintf("failed: %d", result.FailedCount),
		fmt.Sprintf("reclaimed_bytes: %d", result.ReclaimedBytes),
	}
	if result.DryRun && result.CandidateCount > 0 {
		lines = append(lines, "hint: rerun with --apply to delete orphaned objects.")
	}
	return strings.Join(lines, "\n")
}
