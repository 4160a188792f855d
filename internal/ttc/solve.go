// Package ttc implements the deterministic Top Trading Cycle allocation
// algorithm used to compute a Pareto-optimal, strategy-proof reallocation of
// deposited tokens from participants' ranked preferences.
package ttc

import (
	"fmt"
	"sort"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

// Preferences maps every deposited token hash to its ranked preference list
// (most- to least-preferred), read directly off the contract at a pinned
// block. Every hash referenced by a preference list must itself be a key,
// i.e. every candidate token is also a participant.
type Preferences map[domain.TokenHash][]domain.TokenHash

// Reallocation is the outcome of a solve: for every token hash whose owner
// changes, the token hash it receives. Converting this into a set of
// (token hash, new owner address) transfers requires joining against the
// original owner of the received token, which belongs to the caller since
// the solver itself is ownership-agnostic.
type Reallocation map[domain.TokenHash]domain.TokenHash

// Validate checks the structural invariants a preference set must satisfy
// before Solve can run: every preferred hash is itself a participant, and
// there are no duplicate entries within a single token's list. A preference
// list may be shorter than the full participant set, including empty, and a
// token may list itself; both are legal and simply narrow how far Solve can
// place that token before it falls back to being unmatched.
func Validate(prefs Preferences) error {
	for token, list := range prefs {
		seen := make(map[domain.TokenHash]struct{}, len(list))
		for _, pref := range list {
			if _, ok := prefs[pref]; !ok {
				return domain.NewInvalidPreferences(token, fmt.Sprintf("prefers unknown token %s", pref))
			}
			if _, dup := seen[pref]; dup {
				return domain.NewInvalidPreferences(token, fmt.Sprintf("lists %s more than once", pref))
			}
			seen[pref] = struct{}{}
		}
	}
	return nil
}

// Solve runs the Top Trading Cycle algorithm to completion and returns the
// resulting allocation: every token hash whose owner changes mapped to the
// token hash it receives. A token that keeps its current owner — because its
// list is empty, because every entry was claimed ahead of it, or because it
// names itself — never appears in the result, per the output contract.
//
// The algorithm proceeds in rounds. In each round every remaining
// participant points to its highest-ranked surviving preference, or to
// itself once no surviving preference remains; this makes the round's edges
// a total function on the remaining vertices and therefore always contains
// at least one cycle (a self-loop is the degenerate case). Every node on a
// discovered cycle is granted its pointed-to token and removed from further
// rounds; any remaining participant whose current top choice was just
// removed advances to its next preference. This repeats until no
// participants remain.
//
// Solve is byte-for-byte deterministic across repeated calls on the same
// input: ties are broken by ascending TokenHash order, never map iteration
// order, so it can be run independently by both host and zkVM guest and
// produce an identical result.
func Solve(prefs Preferences) (Reallocation, error) {
	if err := Validate(prefs); err != nil {
		return nil, err
	}

	remaining := make(map[domain.TokenHash]struct{}, len(prefs))
	cursor := make(map[domain.TokenHash]int, len(prefs)) // index into prefs[token] of current top choice
	for token := range prefs {
		remaining[token] = struct{}{}
		cursor[token] = 0
	}

	result := make(Reallocation, len(prefs))

	// choiceFor returns token's current top choice: the first surviving
	// entry in its preference list, or token itself once the list is
	// exhausted or was empty to begin with.
	choiceFor := func(token domain.TokenHash) domain.TokenHash {
		list := prefs[token]
		if cursor[token] < len(list) {
			return list[cursor[token]]
		}
		return token
	}

	for len(remaining) > 0 {
		// advance every remaining participant's cursor past any choice that
		// has already left the pool, without running past the end of its list
		for token := range remaining {
			list := prefs[token]
			for cursor[token] < len(list) {
				if _, stillHere := remaining[list[cursor[token]]]; stillHere {
					break
				}
				cursor[token]++
			}
		}

		cycle := findCycle(remaining, choiceFor)

		for _, token := range cycle {
			choice := choiceFor(token)
			if choice != token {
				result[token] = choice
			}
			delete(remaining, token)
		}
	}

	return result, nil
}

// findCycle performs a deterministic DFS over the current functional graph
// (each node's single out-edge is choiceFor(token)) and returns the token
// hashes forming the first cycle discovered, in cycle order. Node visitation
// starts from the lexicographically smallest remaining token and follows
// edges until a node already on the current path is revisited; since every
// node has exactly one out-edge, a cycle is always found before the walk
// exhausts the remaining set.
func findCycle(remaining map[domain.TokenHash]struct{}, choiceFor func(domain.TokenHash) domain.TokenHash) []domain.TokenHash {
	ordered := make([]domain.TokenHash, 0, len(remaining))
	for token := range remaining {
		ordered = append(ordered, token)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Compare(ordered[j]) < 0 })

	visited := make(map[domain.TokenHash]struct{}, len(remaining))

	for _, start := range ordered {
		if _, done := visited[start]; done {
			continue
		}

		path := []domain.TokenHash{}
		onPath := make(map[domain.TokenHash]int, len(remaining))
		node := start
		for {
			if idx, ok := onPath[node]; ok {
				return path[idx:]
			}
			if _, done := visited[node]; done {
				break
			}
			onPath[node] = len(path)
			path = append(path, node)
			visited[node] = struct{}{}
			node = choiceFor(node)
		}
	}
	return nil
}
