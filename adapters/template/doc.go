// Package snapshottemplate renders the snapshot index page with pongo2.
//
// NewPongo2Templates compiles the embedded "index" template; AddFile and
// AddString replace it or register more. Renderer.RenderIndex lists
// snapshot records, newest first as handed in, with links to archived
// artifacts when Renderer.ArtifactURL is set.
package snapshottemplate
