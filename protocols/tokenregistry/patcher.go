package tokenregistry

import (
	"sort"

	"github.com/defistate/microswap/engine"
)

// Patcher builds the next token list by applying diff to prevState. prevState is
// not modified; the result is sorted by id.
func Patcher(prevState []Token, diff TokenSystemDiff) ([]Token, error) {
	next := make(map[engine.ApplicationID]Token, len(prevState)+len(diff.Additions))
	for _, token := range prevState {
		next[token.ID] = token
	}
	for _, id := range diff.Deletions {
		delete(next, id)
	}
	for _, token := range diff.Updates {
		next[token.ID] = token
	}
	for _, token := range diff.Additions {
		next[token.ID] = token
	}

	out := make([]Token, 0, len(next))
	for _, token := range next {
		out = append(out, token)
	}
	SortByID(out)
	return out, nil
}

func sortIDs(ids []engine.ApplicationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
