// File: affinity/strategy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Placement strategies and their configuration names.

package affinity

import (
	"fmt"

	"github.com/momentics/hioload-rt/api"
)

// Strategy selects how logical workers are distributed over PUs.
type Strategy int

const (
	// Compact fills all PUs of a core before moving to the next core.
	Compact Strategy = iota
	// Scatter assigns one PU per core round-robin.
	Scatter
	// Balanced spreads workers evenly over cores with contiguous indices per core.
	Balanced
	// NumaBalanced distributes workers over sockets proportionally, then
	// balances within each socket.
	NumaBalanced
)

var strategyNames = map[Strategy]string{
	Compact:      "compact",
	Scatter:      "scatter",
	Balanced:     "balanced",
	NumaBalanced: "numa-balanced",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, api.Errorf(api.ErrCodeConfiguration, "failed to parse affinity specification: %q", name).
		WithContext("known", []string{"compact", "scatter", "balanced", "numa-balanced"})
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, api.Errorf(api.ErrCodeConfiguration, "unknown placement strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
