// Package screen implements the screen sense. It is the vision pipeline over
// a screen grabber instead of a camera: the same differencing gate, at screen
// priority, so a page of static text does not outrank spoken input.
package screen

import (
	"github.com/MrWong99/sensoria/internal/config"
	"github.com/MrWong99/sensoria/internal/sense/vision"
	"github.com/MrWong99/sensoria/pkg/protocol"
	"github.com/MrWong99/sensoria/pkg/provider/vlm"
)

// New builds the screen sense over the shared vision pipeline.
func New(cfg config.VisionConfig, source vision.Source, describer vlm.Describer) *vision.Vision {
	return vision.NewWithRole(string(config.RoleScreen), protocol.PriorityScreen, cfg, source, describer)
}
