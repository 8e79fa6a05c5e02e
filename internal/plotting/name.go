package plotting

import (
	"fmt"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/security"
)

// ImageName is the file name "save images" writes out to, unique per
// session, tetrode, cell, family and graph.
func ImageName(out *analysis.Output) string {
	name := fmt.Sprintf("%s_T%d_C%d_%s_%s", out.Session, out.Tetrode, out.Request.Cell,
		out.Request.Family.Slug(), out.Request.Graph.Slug())
	return security.SanitizeFilename(name) + ".png"
}
