// Package inihash translates a conaninfo.txt file (a permissive INI
// document) into the JSON shape the Conan search endpoint returns, the Go
// equivalent of ConansEntity.GetSearchBinPkg.pkgInfoToJson (original_source),
// which itself wraps org.ini4j.Wini.
package inihash

import (
	"bytes"
	"fmt"

	"gopkg.in/ini.v1"
)

// RecipeHashSection is the conaninfo.txt section Conan stores its recipe
// hash under, as a bare key rather than a key=value pair.
const RecipeHashSection = "recipe_hash"

// Parse reads data as a conaninfo.txt document and returns one JSON-ready
// map per section (nested key/value maps), except that the recipe_hash
// entry is a string: the first key of the recipe_hash section, matching the
// original's conaninfo.get("recipe_hash").keySet().iterator().next().
//
// Grammar (spec section 6): "[section]" headers, "key=value" lines, a bare
// "key" with no "=" yields the empty-string value, comments ("#" or ";")
// and blank lines are ignored.
func Parse(data []byte) (map[string]interface{}, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: false}, normalizeBareKeys(data))
	if err != nil {
		return nil, fmt.Errorf("inihash: parse: %w", err)
	}

	out := make(map[string]interface{})
	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		sec := make(map[string]string, len(section.Keys()))
		for _, k := range section.Keys() {
			sec[k.Name()] = k.Value()
		}
		out[name] = sec
	}

	hashSection, err := f.GetSection(RecipeHashSection)
	if err != nil {
		return nil, fmt.Errorf("inihash: missing %s section: %w", RecipeHashSection, err)
	}
	keys := hashSection.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("inihash: %s section has no keys", RecipeHashSection)
	}
	out[RecipeHashSection] = keys[0].Name()
	return out, nil
}

// normalizeBareKeys rewrites lines that are bare keys (no "=", not a
// section header or comment) into "key=" so ini.v1 parses them as an
// explicit empty-string value rather than rejecting or treating them as
// Java-style boolean flags.
func normalizeBareKeys(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		switch trimmed[0] {
		case '[', '#', ';':
			continue
		}
		if bytes.ContainsRune(trimmed, '=') {
			continue
		}
		lines[i] = append(append([]byte{}, line...), '=')
	}
	return bytes.Join(lines, []byte("\n"))
}
