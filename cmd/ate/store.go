package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/framefighter/ate/meal"
)

// storeFromViper builds the configured meal store. The returned
// cleanup func must be called on shutdown.
func storeFromViper() (meal.Store, func() error, error) {
	noop := func() error { return nil }
	backend := strings.ToLower(strings.TrimSpace(viper.GetString("store.backend")))
	dataDir := viper.GetString("store.path")

	switch backend {
	case "memory":
		return meal.NewMemoryStore(), noop, nil
	case "", "file":
		s, err := meal.NewFileStore(dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return s, noop, nil
	case "sqlite":
		s, err := meal.NewSQLiteStore(filepath.Join(dataDir, "meals.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store.backend: %s", backend)
	}
}

func operatorsFromViper() []int64 {
	ints := viper.GetIntSlice("guard.operators")
	out := make([]int64, 0, len(ints))
	for _, id := range ints {
		out = append(out, int64(id))
	}
	return out
}
