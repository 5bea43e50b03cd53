// v3
// internal/breaker/properties.go
package breaker

import (
	"strconv"
	"strings"
	"time"
)

// FromProperties reads the circuit.* keys of an already parsed .properties map on top of base.
// Unparsable or non-positive values keep the base value.
func FromProperties(props map[string]string, base Config) Config {
	cfg := base
	for k, val := range props {
		key := strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		switch key {
		case "circuit.maxfailures":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.MaxFailures = n
			}
		case "circuit.resetseconds":
			if secs, err := strconv.ParseFloat(val, 64); err == nil && secs > 0 {
				cfg.ResetTimeout = time.Duration(secs * float64(time.Second))
			}
		case "circuit.successestoclose":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.SuccessesToClose = n
			}
		default:
			// ignore
		}
	}
	return cfg
}
