// Package presets holds the fixed resolution preset table exposed by the
// HTTP adapter. It is not a database table: the set is small, closed, and
// ships with the binary.
package presets

import "graphqueue/pkg/models"

// Resolutions is the fixed {id,label,width,height} table.
var Resolutions = []models.ResolutionPreset{
	{ID: "384x672", Label: "384 x 672 (portrait)", Width: 384, Height: 672},
	{ID: "480x848", Label: "480 x 848 (portrait)", Width: 480, Height: 848},
	{ID: "576x1024", Label: "576 x 1024 (portrait)", Width: 576, Height: 1024},
	{ID: "640x1136", Label: "640 x 1136 (portrait)", Width: 640, Height: 1136},
	{ID: "768x1360", Label: "768 x 1360 (portrait)", Width: 768, Height: 1360},
}

// Lookup returns the preset with the given id, or false if unknown.
func Lookup(id string) (models.ResolutionPreset, bool) {
	for _, p := range Resolutions {
		if p.ID == id {
			return p, true
		}
	}
	return models.ResolutionPreset{}, false
}
