package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"roomqueue/internal/models"
)

const sheetName = "Queue"

var headers = []string{
	"Queue ID", "Room", "Date", "Start", "End", "Requester", "Purpose",
	"Status", "Attempts", "Queued At", "Last Attempt", "Next Retry", "Error", "Conflict",
}

// WriteQueueReport creates an xlsx file under dir listing every queue entry,
// sorted by enqueue time, and returns the file path.
func WriteQueueReport(dir string, entries []models.QueuedRequest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	sorted := make([]models.QueuedRequest, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QueuedAt.Before(sorted[j].QueuedAt)
	})

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for col, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, title)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for row, entry := range sorted {
		values := []interface{}{
			entry.QueueID,
			entry.Booking.RoomID,
			entry.Booking.Date,
			entry.Booking.StartTime,
			entry.Booking.EndTime,
			entry.Booking.RequesterID,
			entry.Booking.Purpose,
			entry.Status,
			entry.Attempts,
			entry.QueuedAt.Format(time.RFC3339),
			formatTime(entry.LastAttempt),
			formatTime(entry.NextRetry),
			formatString(entry.Error),
			formatConflict(entry.Conflict),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "N", 18)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("queue_export_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	return filePath, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatConflict(details *models.ConflictDetails) string {
	if details == nil {
		return ""
	}
	if len(details.ConflictingIDs) == 0 {
		return details.Message
	}
	return details.Message + " (" + strings.Join(details.ConflictingIDs, ", ") + ")"
}
