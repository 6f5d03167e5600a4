package identity

import "strings"

// Scope partitions recall instances by purpose, so unrelated runs don't
// process each other's signals.
type Scope uint8

// Sound scopes. The set is closed.
const (
	Playback Scope = iota + 1
	Sequencer
	Notation
	Wave
	Midi
)

// ScopeSet is a set of accepted sound scopes.
type ScopeSet uint8

// AllScopes accepts every sound scope.
const AllScopes = ScopeSet(1<<Playback | 1<<Sequencer | 1<<Notation | 1<<Wave | 1<<Midi)

// Valid returns true if scope is one of the defined sound scopes.
func (s Scope) Valid() bool {
	return s >= Playback && s <= Midi
}

func (s Scope) String() string {
	switch s {
	case Playback:
		return "playback"
	case Sequencer:
		return "sequencer"
	case Notation:
		return "notation"
	case Wave:
		return "wave"
	case Midi:
		return "midi"
	}
	return "unknown"
}

// Scopes returns a set of provided scopes. Invalid scopes are ignored.
func Scopes(scopes ...Scope) ScopeSet {
	var set ScopeSet
	for _, s := range scopes {
		if s.Valid() {
			set |= 1 << s
		}
	}
	return set
}

// Has returns true if scope is in the set.
func (set ScopeSet) Has(s Scope) bool {
	return s.Valid() && set&(1<<s) != 0
}

// Add returns the set extended with provided scope.
func (set ScopeSet) Add(s Scope) ScopeSet {
	return set | Scopes(s)
}

func (set ScopeSet) String() string {
	names := make([]string, 0, 5)
	for s := Playback; s <= Midi; s++ {
		if set.Has(s) {
			names = append(names, s.String())
		}
	}
	return strings.Join(names, "|")
}
