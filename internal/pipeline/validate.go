package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"nfeimport/internal/config"
)

// ValidateRows enforces the required-field contract before anything is
// written: exporting incomplete rows would corrupt the downstream import
// wholesale, so a violation is fatal and lists every offending handle.
func ValidateRows(rows []Row, strategy string) error {
	violations := map[string][]string{}
	flag := func(field, handle string) {
		if handle == "" {
			handle = "(no handle)"
		}
		violations[field] = append(violations[field], handle)
	}

	required := []string{"Handle", "Title", "Vendor", "Variant SKU"}
	if strategy != config.StrategySomenteCusto {
		required = append(required, "Variant Price")
	}

	for _, row := range rows {
		handle := row["Handle"]
		for _, field := range required {
			if strings.TrimSpace(row[field]) == "" {
				flag(field, handle)
			}
		}

		weight := strings.TrimSpace(row["Variant Weight"])
		unit := strings.TrimSpace(row["Variant Weight Unit"])
		if weight == "" && unit == "" {
			continue
		}
		value, err := strconv.ParseFloat(weight, 64)
		if err != nil || value <= 0 || (unit != "g" && unit != "kg") || strings.TrimSpace(row["Variant Grams"]) == "" {
			flag("Variant Weight", handle)
		}
	}

	if len(violations) == 0 {
		return nil
	}

	fields := make([]string, 0, len(violations))
	for field := range violations {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s missing for: %s", field, strings.Join(violations[field], ", ")))
	}
	return fmt.Errorf("required output fields missing: %s", strings.Join(parts, "; "))
}
