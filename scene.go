package rtcore

import (
	"image"

	"github.com/gogpu/rtcore/loader"
)

// Scene is the geometry and material the renderer traces against.
type Scene struct {
	// Mesh is the triangle list. Positions, texture coordinates and
	// normals are uploaded as they are.
	Mesh *loader.Mesh

	// BaseColor is sampled by the closest-hit shader. Nil uses a 1x1
	// white texture.
	BaseColor *image.RGBA
}

// LoadSceneFiles builds a Scene from mesh and the base color image at
// texturePath. An empty or unreadable path falls back to white.
func LoadSceneFiles(mesh *loader.Mesh, texturePath string) Scene {
	return Scene{Mesh: mesh, BaseColor: loader.LoadImageOrWhite(texturePath)}
}
