package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

const (
	keyVehiclesPresent = "Vehicles_Present"
	keyRawResponse     = "raw_response"
)

var countKeys = []string{"Cars", "Bikes", "Trucks", "Buses", "Unknown"}

// Payload is a validated model answer.
type Payload struct {
	VehiclesPresent bool
	Counts          model.VehicleCounts
}

// ParseModelText extracts and validates the JSON object a vision model
// returned, tolerating markdown code fences and surrounding prose.
func ParseModelText(text string) (Payload, error) {
	obj, err := extractObject(text)
	if err != nil {
		return Payload{}, err
	}

	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Payload{}, fmt.Errorf("model response is not valid JSON: %w", err)
	}
	if fields == nil {
		return Payload{}, errors.New("model response format error: parsed value is not a JSON object")
	}

	var missing []string
	for _, k := range append([]string{keyVehiclesPresent}, countKeys...) {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Payload{}, fmt.Errorf("model response format error: missing keys %s", strings.Join(missing, ", "))
	}

	vp, ok := fields[keyVehiclesPresent].(string)
	presence := model.ParsePresence(vp)
	if !ok || presence == model.PresenceUnknown {
		return Payload{}, fmt.Errorf("model response format error: invalid %s value %v (must be 'True' or 'False')", keyVehiclesPresent, fields[keyVehiclesPresent])
	}

	counts := make(map[string]int, len(countKeys))
	for _, k := range countKeys {
		n, err := toCount(fields[k])
		if err != nil {
			return Payload{}, fmt.Errorf("model response format error: %s: %w", k, err)
		}
		counts[k] = n
	}

	return Payload{
		VehiclesPresent: presence == model.PresenceTrue,
		Counts: model.VehicleCounts{
			Cars:    counts["Cars"],
			Bikes:   counts["Bikes"],
			Trucks:  counts["Trucks"],
			Buses:   counts["Buses"],
			Unknown: counts["Unknown"],
		},
	}, nil
}

func extractObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) >= 6 {
		s = strings.TrimSpace(s[3 : len(s)-3])
		s = strings.TrimSpace(strings.TrimPrefix(s, "json"))
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		first := strings.Index(s, "{")
		last := strings.LastIndex(s, "}")
		if first == -1 || last <= first {
			return "", errors.New("model response format error: no recognizable JSON object")
		}
		s = strings.TrimSpace(s[first : last+1])
	}
	if s == "" {
		return "", errors.New("model response format error: empty after cleaning")
	}
	return s, nil
}

// toCount accepts JSON numbers and numeric strings; counts must be
// non-negative integers.
func toCount(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			f = float64(i)
		} else if ff, err := t.Float64(); err == nil {
			f = math.Trunc(ff)
		} else {
			return 0, fmt.Errorf("invalid number %q", t.String())
		}
	case float64:
		f = math.Trunc(t)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("non-integer value %q", t)
		}
		f = float64(i)
	default:
		return 0, fmt.Errorf("non-integer value %v", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative value %v", f)
	}
	return int(f), nil
}

// FormatLog pretty-prints raw when it contains a JSON object and returns it
// trimmed otherwise.
func FormatLog(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "(Empty Response)"
	}
	obj, err := extractObject(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(obj), "", "  "); err != nil {
		return strings.TrimSpace(raw)
	}
	return buf.String()
}
