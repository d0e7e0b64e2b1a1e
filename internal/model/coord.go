package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CoordLabel formats a grid cell as "(lat, lon)" with two decimals.
func CoordLabel(lat, lon float64) string {
	return fmt.Sprintf("(%.2f, %.2f)", lat, lon)
}

// ParseCoordLabel reverses CoordLabel.
func ParseCoordLabel(label string) (lat, lon float64, err error) {
	s := strings.TrimSpace(label)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return 0, 0, eris.Errorf("model: coordinate label %q is not parenthesised", label)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("model: coordinate label %q must hold two values", label)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "model: parse latitude in %q", label)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "model: parse longitude in %q", label)
	}
	return lat, lon, nil
}

// GridLabels builds the row-major label set for a lat x lon grid: latitude
// is the outer axis, longitude the inner one.
func GridLabels(lats, lons []float64) []string {
	labels := make([]string, 0, len(lats)*len(lons))
	for _, la := range lats {
		for _, lo := range lons {
			labels = append(labels, CoordLabel(la, lo))
		}
	}
	return labels
}
