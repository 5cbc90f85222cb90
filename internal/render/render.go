// Package render defines the interfaces the integration loop consumes from
// its rendering collaborator. Nothing in this package draws a pixel: the
// real backend (window/input glue, a 3D renderer, mesh loading, a camera)
// is wired in by the host.
package render

// MeshHandle identifies a mesh previously registered with AddMesh.
type MeshHandle uint64

// Collaborator is the renderer-side interface the integration loop calls
// after a completed tick. A real implementation owns a window, a graphics
// device, and a camera; none of that is this package's concern.
type Collaborator interface {
	// AddMesh registers a mesh's vertex/index data and returns a handle
	// for later SetModel calls.
	AddMesh(vertices []float32, indices []uint32) (MeshHandle, error)
	// SetModel updates the model transform for a previously registered
	// mesh. transform is a column-major 4x4 matrix.
	SetModel(mesh MeshHandle, transform [16]float32)
	// SetViewProjection sets the camera's view and projection matrices
	// and its world-space position, both column-major 4x4.
	SetViewProjection(view, projection [16]float32, cameraPosition [3]float32)
	// DrawFrame submits the frame built by the prior calls. Called once
	// per completed tick, never from inside a flocking block.
	DrawFrame()
}

// NoopCollaborator satisfies Collaborator without doing anything, for
// headless tests and the CLI's headless mode.
type NoopCollaborator struct {
	nextHandle MeshHandle
	DrawCalls  int
}

// AddMesh hands out a monotonically increasing handle; it does not retain
// the vertex/index data.
func (n *NoopCollaborator) AddMesh(vertices []float32, indices []uint32) (MeshHandle, error) {
	n.nextHandle++
	return n.nextHandle, nil
}

// SetModel is a no-op.
func (n *NoopCollaborator) SetModel(mesh MeshHandle, transform [16]float32) {}

// SetViewProjection is a no-op.
func (n *NoopCollaborator) SetViewProjection(view, projection [16]float32, cameraPosition [3]float32) {
}

// DrawFrame counts the call so tests can assert the loop invoked it.
func (n *NoopCollaborator) DrawFrame() {
	n.DrawCalls++
}

var _ Collaborator = (*NoopCollaborator)(nil)
