package tokenregistry

import "github.com/defistate/microswap/engine"

type TokenSystemDiff struct {
	Additions []Token                `json:"additions,omitempty"`
	Updates   []Token                `json:"updates,omitempty"`
	Deletions []engine.ApplicationID `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d TokenSystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// Differ calculates the difference between two token lists, keyed by token id.
// Metadata never changes after registration, so only the pool counter and the
// home chain are compared for updates. Output slices are sorted by id.
func Differ(old, new []Token) TokenSystemDiff {
	oldByID := make(map[engine.ApplicationID]Token, len(old))
	for _, token := range old {
		oldByID[token.ID] = token
	}
	newByID := make(map[engine.ApplicationID]Token, len(new))
	for _, token := range new {
		newByID[token.ID] = token
	}

	var diff TokenSystemDiff
	for id, token := range newByID {
		prev, exists := oldByID[id]
		switch {
		case !exists:
			diff.Additions = append(diff.Additions, token)
		case prev.Pools != token.Pools || prev.ChainID != token.ChainID:
			diff.Updates = append(diff.Updates, token)
		}
	}
	for id := range oldByID {
		if _, exists := newByID[id]; !exists {
			diff.Deletions = append(diff.Deletions, id)
		}
	}

	SortByID(diff.Additions)
	SortByID(diff.Updates)
	sortIDs(diff.Deletions)
	return diff
}
