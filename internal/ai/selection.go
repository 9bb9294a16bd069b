package ai

import (
	"fmt"
	"strings"
)

// AutoModel requests remote model selection instead of a fixed identifier
const AutoModel = "auto"

// SelectionOptions controls SelectModel
type SelectionOptions struct {
	// Prefer lists keywords in priority order; the first identifier containing the highest-priority keyword wins
	Prefer []string
	// Exclude drops identifiers containing any of these tags before preferences are applied
	Exclude []string
}

// DefaultSelectionOptions prefers flash models, then pro models, and skips experimental releases
func DefaultSelectionOptions() SelectionOptions {
	return SelectionOptions{
		Prefer:  []string{"flash", "pro"},
		Exclude: []string{"exp"},
	}
}

// SelectModel picks exactly one identifier from ids. The result depends only on the contents and order of ids.
func SelectModel(ids []string, opts SelectionOptions) (string, error) {
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimPrefix(strings.TrimSpace(id), "models/")
		if id == "" || containsAny(id, opts.Exclude) {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %d identifiers, all excluded", ErrNoModels, len(ids))
	}

	for _, keyword := range opts.Prefer {
		for _, id := range candidates {
			if strings.Contains(id, keyword) {
				return id, nil
			}
		}
	}
	return candidates[0], nil
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
