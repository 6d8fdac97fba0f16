// Package visitors issues the locally stored visitor identifier and derives
// display aliases from it.
package visitors

import (
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

// CookieName carries the visitor id between page loads.
const CookieName = "ff_vid"

// NewID returns a fresh random visitor id. The id stays on the visitor's
// browser and in the local visit log; it is never sent to the remote counter.
func NewID() string {
	return uuid.NewString()
}

// Valid reports whether id was issued by NewID.
func Valid(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.Version() == 4 && strings.EqualFold(parsed.String(), id)
}

// Ensure returns id when it is valid and a new one otherwise. The second
// result tells whether a new id was issued.
func Ensure(id string) (string, bool) {
	if Valid(id) {
		return strings.ToLower(id), false
	}
	return NewID(), true
}

var (
	aliasAdjectives = []string{
		"Curious", "Happy", "Clever", "Wise", "Playful", "Brave", "Swift", "Gentle",
		"Bright", "Calm", "Bold", "Quiet", "Lively", "Nimble", "Merry", "Kind",
	}
	aliasAnimals = []string{
		"Panda", "Fox", "Owl", "Otter", "Lion", "Eagle", "Deer", "Raven",
		"Koala", "Heron", "Lynx", "Seal", "Crane", "Finch", "Badger", "Tapir",
	}
)

// Alias returns a stable "Adjective Animal" name for a visitor id, used where
// the dashboard lists recent visits.
func Alias(id string) string {
	if id == "" {
		return "Anonymous"
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(id)))
	n := int(h.Sum32())
	return aliasAdjectives[n%len(aliasAdjectives)] + " " + aliasAnimals[(n/len(aliasAdjectives))%len(aliasAnimals)]
}
