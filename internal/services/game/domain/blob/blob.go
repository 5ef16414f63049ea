// Package blob manipulates the opaque JSON documents the engine carries
// (campaign state, character sheets, player state) without interpreting them.
package blob

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Empty is the canonical empty document.
const Empty = "{}"

// Normalize returns doc if it is a JSON object, Empty otherwise.
func Normalize(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" || !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return Empty
	}
	return doc
}

// ApplyPatch merges the top-level keys of patch into base. A null value
// deletes the key; any other value replaces it verbatim. Both inputs are
// normalized first, so malformed documents degrade to Empty rather than
// poisoning state.
func ApplyPatch(base, patch string) string {
	merged := Normalize(base)
	parsed := gjson.Parse(Normalize(patch))
	parsed.ForEach(func(key, value gjson.Result) bool {
		path := escapePath(key.String())
		var err error
		if value.Type == gjson.Null {
			merged, err = sjson.Delete(merged, path)
		} else {
			merged, err = sjson.SetRaw(merged, path, value.Raw)
		}
		if err != nil {
			// Skip unpatchable keys; the rest of the patch still applies.
			return true
		}
		return true
	})
	return merged
}

// escapePath protects literal key characters that sjson would otherwise
// treat as path syntax.
func escapePath(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`)
	return replacer.Replace(key)
}

// roomKeyFields are probed in order when deriving a scene's room key.
var roomKeyFields = []string{"room_id", "location", "room_title", "room_summary"}

// RoomKey derives a stable scene identifier from a player state document.
func RoomKey(playerState string) string {
	state := gjson.Parse(Normalize(playerState))
	for _, field := range roomKeyFields {
		raw := strings.ToLower(strings.TrimSpace(state.Get(escapePath(field)).String()))
		if raw != "" {
			if len(raw) > 120 {
				raw = raw[:120]
			}
			return raw
		}
	}
	return "unknown-room"
}

// InventoryItem is one named item in a player inventory.
type InventoryItem struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

// Inventory extracts a deduplicated inventory list from a player state
// document. Entries may be bare strings or objects with name/item/title.
func Inventory(playerState string) []InventoryItem {
	raw := gjson.Parse(Normalize(playerState)).Get("inventory")
	if !raw.IsArray() {
		return nil
	}
	var out []InventoryItem
	seen := map[string]struct{}{}
	for _, entry := range raw.Array() {
		var name, origin string
		if entry.IsObject() {
			for _, field := range []string{"name", "item", "title"} {
				if name = strings.TrimSpace(entry.Get(field).String()); name != "" {
					break
				}
			}
			origin = strings.TrimSpace(entry.Get("origin").String())
		} else {
			name = strings.TrimSpace(entry.String())
		}
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, InventoryItem{Name: name, Origin: origin})
	}
	return out
}

// SetInventory writes an inventory list back into a player state document.
func SetInventory(playerState string, items []InventoryItem) string {
	if items == nil {
		items = []InventoryItem{}
	}
	updated, err := sjson.Set(Normalize(playerState), "inventory", items)
	if err != nil {
		return Normalize(playerState)
	}
	return updated
}
