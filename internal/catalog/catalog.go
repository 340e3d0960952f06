// Package catalog holds the static instrument reference data.
package catalog

import (
	"fmt"
	"strings"
)

const (
	CategoryContinuous = "Continuous Indices"
	CategoryBoomCrash  = "Boom/Crash Indices"
	CategoryStep       = "Step Indices"
	CategoryJump       = "Jump Indices"
)

// Entry is an immutable (symbol, display name, category) triple.
type Entry struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

var entries = []Entry{
	{"1HZ10V", "Volatility 10 (1s)", CategoryContinuous},
	{"1HZ25V", "Volatility 25 (1s)", CategoryContinuous},
	{"1HZ50V", "Volatility 50 (1s)", CategoryContinuous},
	{"1HZ75V", "Volatility 75 (1s)", CategoryContinuous},
	{"1HZ100V", "Volatility 100 (1s)", CategoryContinuous},
	{"1HZ150V", "Volatility 150 (1s)", CategoryContinuous},
	{"1HZ250V", "Volatility 250 (1s)", CategoryContinuous},
	{"R_10", "Volatility 10", CategoryContinuous},
	{"R_25", "Volatility 25", CategoryContinuous},
	{"R_50", "Volatility 50", CategoryContinuous},
	{"R_75", "Volatility 75", CategoryContinuous},
	{"R_100", "Volatility 100", CategoryContinuous},

	{"BOOM300", "Boom 300", CategoryBoomCrash},
	{"BOOM500", "Boom 500", CategoryBoomCrash},
	{"BOOM1000", "Boom 1000", CategoryBoomCrash},
	{"CRASH300", "Crash 300", CategoryBoomCrash},
	{"CRASH500", "Crash 500", CategoryBoomCrash},
	{"CRASH1000", "Crash 1000", CategoryBoomCrash},

	{"STEP", "Step Index", CategoryStep},
	{"STEP10", "Step 10", CategoryStep},
	{"STEP25", "Step 25", CategoryStep},

	{"JUMP_10", "Jump 10", CategoryJump},
	{"JUMP_25", "Jump 25", CategoryJump},
	{"JUMP_50", "Jump 50", CategoryJump},
	{"JUMP_75", "Jump 75", CategoryJump},
	{"JUMP_100", "Jump 100", CategoryJump},
}

var bySymbol = func() map[string]Entry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Symbol] = e
	}
	return m
}()

// All returns a copy of the full catalog in display order.
func All() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func Lookup(symbol string) (Entry, bool) {
	e, ok := bySymbol[strings.TrimSpace(symbol)]
	return e, ok
}

// Select resolves symbols against the catalog, preserving the requested order.
// An empty list selects the whole catalog. Duplicates are collapsed.
func Select(symbols []string) ([]Entry, error) {
	if len(symbols) == 0 {
		return All(), nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]Entry, 0, len(symbols))
	for _, s := range symbols {
		e, ok := Lookup(s)
		if !ok {
			return nil, fmt.Errorf("unknown instrument %q", s)
		}
		if _, dup := seen[e.Symbol]; dup {
			continue
		}
		seen[e.Symbol] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}
