// Package featureflags holds the runtime switches that set planner defaults
// and control how distance lookups degrade.
//
// Only keys with a Definition can be stored. Values are checked against the
// definition's kind before they reach a repository, so readers can rely on
// Bool and Int without guarding against foreign types.
package featureflags

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Flag keys.
const (
	FlagPlannerTwoOpt     = "planner_two_opt"
	FlagPlannerLazyMatrix = "planner_lazy_matrix"
	FlagPlannerMaxStops   = "planner_max_stops"
	FlagDistanceFallback  = "distance_fallback"
)

// DefaultPlannerMaxStops is the stop cap used when the flag is unset.
const DefaultPlannerMaxStops = 100

var (
	// ErrUnknownFlag is returned when a key has no Definition.
	ErrUnknownFlag = errors.New("unknown feature flag")

	// ErrInvalidValue is returned when a value does not fit its flag's kind.
	ErrInvalidValue = errors.New("invalid feature flag value")
)

// Kind is the value type of a flag.
type Kind string

const (
	KindBool Kind = "bool"
	KindInt  Kind = "int"
)

// Definition describes a known flag.
type Definition struct {
	Key         string
	Kind        Kind
	Default     any
	Description string

	// Min is the smallest accepted value for KindInt flags.
	Min int
}

var definitions = map[string]Definition{
	FlagPlannerTwoOpt: {
		Key:         FlagPlannerTwoOpt,
		Kind:        KindBool,
		Default:     false,
		Description: "Run the 2-opt improvement pass when a request does not choose.",
	},
	FlagPlannerLazyMatrix: {
		Key:         FlagPlannerLazyMatrix,
		Kind:        KindBool,
		Default:     false,
		Description: "Resolve distances on demand instead of building the full matrix up front.",
	},
	FlagPlannerMaxStops: {
		Key:         FlagPlannerMaxStops,
		Kind:        KindInt,
		Default:     DefaultPlannerMaxStops,
		Description: "Largest number of stops accepted in one plan request.",
		Min:         1,
	},
	FlagDistanceFallback: {
		Key:         FlagDistanceFallback,
		Kind:        KindBool,
		Default:     true,
		Description: "Use straight-line estimates while the road distance provider is failing.",
	},
}

// Lookup returns the definition for key.
func Lookup(key string) (Definition, bool) {
	d, ok := definitions[key]
	return d, ok
}

// Definitions returns every known flag ordered by key.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Normalize checks v against the definition and returns it in canonical
// form: bool for KindBool, int for KindInt.
func (d Definition) Normalize(v any) (any, error) {
	switch d.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a boolean", ErrInvalidValue, d.Key)
		}
		return b, nil
	case KindInt:
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an integer", ErrInvalidValue, d.Key)
		}
		if n < d.Min {
			return nil, fmt.Errorf("%w: %s must be at least %d", ErrInvalidValue, d.Key, d.Min)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported kind %q", ErrInvalidValue, d.Key, d.Kind)
	}
}

// Flag is a flag's current value.
type Flag struct {
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// FlagList is the admin listing of flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate sets one flag.
type FlagUpdate struct {
	Key   string `json:"key" validate:"required"`
	Value any    `json:"value"`
}

// FlagUpdateRequest is the admin request body for changing flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates" validate:"required,min=1,dive"`
	Reason  string       `json:"reason" validate:"required,max=500"`
}

// Bool returns the value as a boolean, or def when it is not one.
func (f Flag) Bool(def bool) bool {
	if b, ok := f.Value.(bool); ok {
		return b
	}
	return def
}

// Int returns the value as an integer, or def when it is not one.
func (f Flag) Int(def int) int {
	if n, ok := toInt(f.Value); ok {
		return n
	}
	return def
}

// toInt accepts the integer shapes a value can take after a trip through
// JSON or JSONB.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// defaults returns every defined flag at its default value.
func defaults() map[string]Flag {
	out := make(map[string]Flag, len(definitions))
	for key, d := range definitions {
		out[key] = Flag{Key: key, Value: d.Default, Description: d.Description}
	}
	return out
}
