package workers

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"comicforge/internal/project"
)

// handleFor derives a stable, URL-safe handle from a character name. Accents
// are folded ("Zoë Varga" becomes "zoe-varga"); taken handles get a numeric
// suffix.
func handleFor(name string, taken map[string]bool) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	handle := strings.TrimSuffix(b.String(), "-")
	if handle == "" {
		handle = "character"
	}
	candidate := handle
	for n := 2; taken[candidate]; n++ {
		candidate = handle + "-" + strconv.Itoa(n)
	}
	taken[candidate] = true
	return candidate
}

// castIndex resolves the names a script uses to character handles.
type castIndex struct {
	cast  []project.Character
	byKey map[string]project.Character
}

func newCastIndex(characters []project.Character) castIndex {
	idx := castIndex{cast: characters, byKey: make(map[string]project.Character, len(characters)*2)}
	for _, ch := range characters {
		idx.byKey[strings.ToLower(strings.TrimSpace(ch.Handle))] = ch
		idx.byKey[strings.ToLower(strings.TrimSpace(ch.Name))] = ch
	}
	return idx
}

// lookup matches a handle or name, then a first name.
func (c castIndex) lookup(ref string) (project.Character, bool) {
	key := strings.ToLower(strings.TrimSpace(ref))
	if key == "" {
		return project.Character{}, false
	}
	if ch, ok := c.byKey[key]; ok {
		return ch, true
	}
	if ch, ok := c.byKey[handleFor(ref, map[string]bool{})]; ok {
		return ch, true
	}
	for _, ch := range c.cast {
		if first, _, _ := strings.Cut(strings.ToLower(ch.Name), " "); first == key {
			return ch, true
		}
	}
	return project.Character{}, false
}

// handles maps script references to unique handles, dropping unknown names.
func (c castIndex) handles(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ch, ok := c.lookup(ref)
		if !ok || seen[ch.Handle] {
			continue
		}
		seen[ch.Handle] = true
		out = append(out, ch.Handle)
	}
	return out
}
