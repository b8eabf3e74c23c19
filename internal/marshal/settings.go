package marshal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codegrade/cgfs/internal/api"
)

// settingsKeys are the only keys ".cg-assignment-settings.ini" reads or
// writes; any other key is a parse error.
var settingsKeys = []string{"name", "state", "deadline"}

// FormatSettings renders the editable assignment-settings INI. The two
// "in progress" grading states collapse to the single user-facing "open".
func FormatSettings(s api.AssignmentSettings) []byte {
	state := s.State
	if state == "grading" || state == "submitting" {
		state = "open"
	}

	lines := []string{
		fmt.Sprintf("deadline = %s", s.Deadline),
		fmt.Sprintf("name = %s", s.Name),
		fmt.Sprintf("state = %s", state),
	}
	sort.Strings(lines)
	lines = append(lines, "")
	return []byte(strings.Join(lines, "\n"))
}

// ParseSettings requires exactly the three known keys, each present once.
func ParseSettings(data []byte) (api.AssignmentSettings, error) {
	allowed := make(map[string]bool, len(settingsKeys))
	for _, k := range settingsKeys {
		allowed[k] = true
	}

	values := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return api.AssignmentSettings{}, fmt.Errorf("malformed settings line: %q", line)
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if !allowed[key] {
			return api.AssignmentSettings{}, fmt.Errorf("unknown settings key: %q", key)
		}
		if _, dup := values[key]; dup {
			return api.AssignmentSettings{}, fmt.Errorf("duplicate settings key: %q", key)
		}
		values[key] = val
	}

	if len(values) != len(settingsKeys) {
		return api.AssignmentSettings{}, fmt.Errorf("assignment settings must set exactly %v", settingsKeys)
	}

	return api.AssignmentSettings{
		Name:     values["name"],
		State:    values["state"],
		Deadline: values["deadline"],
	}, nil
}
