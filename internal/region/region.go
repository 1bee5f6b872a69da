// Package region holds the immutable catalog of purchasable map regions.
package region

import "strings"

// Region is one purchasable partition of the map.
type Region struct {
	ID          string
	DisplayName string
}

// Catalog order matches the map legend.
var catalog = []Region{
	{ID: "centre", DisplayName: "Centre"},
	{ID: "north", DisplayName: "Noord"},
	{ID: "east", DisplayName: "Oost"},
	{ID: "south", DisplayName: "Zuid"},
	{ID: "west", DisplayName: "West"},
	{ID: "new-west", DisplayName: "Nieuw-West"},
	{ID: "southeast", DisplayName: "Zuidoost"},
}

// aliases maps every accepted spelling (canonical ids, English and Dutch
// names, hyphen/space variants) to the canonical region id. Keys are
// lowercase with spaces collapsed to hyphens; Normalize folds input the
// same way before lookup.
var aliases = map[string]string{
	"centre":     "centre",
	"center":     "centre",
	"centrum":    "centre",
	"north":      "north",
	"noord":      "north",
	"east":       "east",
	"oost":       "east",
	"south":      "south",
	"zuid":       "south",
	"west":       "west",
	"new-west":   "new-west",
	"nieuw-west": "new-west",
	"southeast":  "southeast",
	"south-east": "southeast",
	"zuidoost":   "southeast",
}

// All returns the catalog in display order.
func All() []Region {
	out := make([]Region, len(catalog))
	copy(out, catalog)
	return out
}

// DisplayName returns the display name for a canonical region id, or the id
// itself if it is not in the catalog.
func DisplayName(id string) string {
	for _, r := range catalog {
		if r.ID == id {
			return r.DisplayName
		}
	}
	return id
}

// Normalize resolves a raw region string to its canonical id. Matching is
// case-insensitive and treats spaces and hyphens alike. The second return
// is false only when no alias matches; Normalize never silently defaults.
func Normalize(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.Join(strings.Fields(key), "-")
	id, ok := aliases[key]
	return id, ok
}
