package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AnMiZa/home-budget-planner-sub001/internal/export/google"
	"github.com/AnMiZa/home-budget-planner-sub001/internal/export/memory"
)

var (
	_ RowWriter = (*memory.Store)(nil)
	_ RowWriter = (*google.Client)(nil)
)

// Target selects the export backend.
type Target string

const (
	TargetNone   Target = "none"
	TargetMemory Target = "memory"
	TargetSheets Target = "sheets"
)

func (t Target) IsValid() bool {
	switch t {
	case TargetNone, TargetMemory, TargetSheets:
		return true
	}
	return false
}

// Settings carries everything a backend needs; unused fields may stay empty
// for the simpler targets.
type Settings struct {
	Target Target

	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New builds the configured RowWriter. TargetNone yields a nil writer; the
// caller skips exporting in that case.
func New(ctx context.Context, settings Settings) (RowWriter, error) {
	switch settings.Target {
	case TargetNone, "":
		return nil, nil
	case TargetMemory:
		slog.InfoContext(ctx, "Using in-memory export target")
		return memory.New(), nil
	case TargetSheets:
		writer, err := google.New(ctx, google.Settings{
			SpreadsheetID:   settings.SpreadsheetID,
			SheetName:       settings.SheetName,
			CredentialsJSON: settings.CredentialsJSON,
			CredentialsFile: settings.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("create sheets export target: %w", err)
		}
		slog.InfoContext(ctx, "Using Google Sheets export target",
			"spreadsheet_id", settings.SpreadsheetID,
			"sheet", settings.SheetName)
		return writer, nil
	default:
		return nil, fmt.Errorf("unknown export target: %s", settings.Target)
	}
}
