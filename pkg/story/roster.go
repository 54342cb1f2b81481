package story

import "strings"

// NameKey returns the key used to deduplicate characters by name: the name
// trimmed and lower-cased.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MergeRoster appends every character from incoming whose name is not yet
// present in roster. Existing entries are never replaced or removed, so the
// roster only grows. Characters with a blank name are skipped.
//
// It returns the merged roster and the characters that were actually added.
func MergeRoster(roster, incoming []Character) (merged, added []Character) {
	seen := make(map[string]struct{}, len(roster)+len(incoming))
	for _, c := range roster {
		seen[NameKey(c.Name)] = struct{}{}
	}
	merged = roster
	for _, c := range incoming {
		key := NameKey(c.Name)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		c.Name = strings.TrimSpace(c.Name)
		merged = append(merged, c)
		added = append(added, c)
	}
	return merged, added
}
