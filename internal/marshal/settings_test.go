package marshal

import (
	"testing"

	"github.com/codegrade/cgfs/internal/api"
)

func TestFormatSettingsCollapsesInProgressStates(t *testing.T) {
	t.Parallel()
	data := FormatSettings(api.AssignmentSettings{Name: "Lab 1", State: "grading", Deadline: "2026-09-01T00:00"})
	got, err := ParseSettings(data)
	if err != nil {
		t.Fatalf("ParseSettings failed: %v", err)
	}
	if got.State != "open" {
		t.Errorf("expected state 'open', got %q", got.State)
	}
	if got.Name != "Lab 1" {
		t.Errorf("expected name 'Lab 1', got %q", got.Name)
	}
}

func TestParseSettingsMissingKey(t *testing.T) {
	t.Parallel()
	_, err := ParseSettings([]byte("name = Lab 1\nstate = open\n"))
	if err == nil {
		t.Error("expected error for missing deadline key")
	}
}

func TestParseSettingsUnknownKey(t *testing.T) {
	t.Parallel()
	_, err := ParseSettings([]byte("name = Lab 1\nstate = open\ndeadline = x\nbogus = 1\n"))
	if err == nil {
		t.Error("expected error for unknown key")
	}
}
