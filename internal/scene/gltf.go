package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/qmuntal/gltf"
)

// Source fetches the two assets a scene is built from.
type Source interface {
	LoadMesh(ctx context.Context, location string) (*Mesh, error)
	LoadClips(ctx context.Context, location string) ([]*Clip, error)
}

// GLTFSource reads .gltf and .glb files from disk, or from http(s) through an AssetCache.
type GLTFSource struct {
	cache *AssetCache
}

// NewGLTFSource builds a source. cache may be nil when only local paths are used.
func NewGLTFSource(cache *AssetCache) *GLTFSource {
	return &GLTFSource{cache: cache}
}

func (s *GLTFSource) open(ctx context.Context, location string) (*gltf.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := location
	if isRemote(location) {
		if s.cache == nil {
			return nil, fmt.Errorf("remote asset %s needs an asset cache", location)
		}
		local, err := s.cache.Fetch(ctx, location)
		if err != nil {
			return nil, err
		}
		path = local
	}
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *GLTFSource) LoadMesh(ctx context.Context, location string) (*Mesh, error) {
	doc, err := s.open(ctx, location)
	if err != nil {
		return nil, err
	}
	if len(doc.Meshes) == 0 {
		return nil, fmt.Errorf("no meshes found in %s", location)
	}

	mesh := &Mesh{
		Meshes: len(doc.Meshes),
		Skins:  len(doc.Skins),
	}
	for _, n := range doc.Nodes {
		mesh.Nodes = append(mesh.Nodes, n.Name)
	}

	// the root is the first node of the default scene, else the first mesh
	if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
		if roots := doc.Scenes[int(*doc.Scene)].Nodes; len(roots) > 0 && int(roots[0]) < len(doc.Nodes) {
			mesh.Name = doc.Nodes[int(roots[0])].Name
		}
	}
	if mesh.Name == "" {
		mesh.Name = doc.Meshes[0].Name
	}
	return mesh, nil
}

func (s *GLTFSource) LoadClips(ctx context.Context, location string) ([]*Clip, error) {
	doc, err := s.open(ctx, location)
	if err != nil {
		return nil, err
	}

	clips := make([]*Clip, 0, len(doc.Animations))
	for i, anim := range doc.Animations {
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("clip-%d", i)
		}
		clip := &Clip{Name: name, Channels: len(anim.Channels)}
		// keyframe times live in the sampler input accessors; the longest one is the clip length
		for _, sampler := range anim.Samplers {
			idx := int(sampler.Input)
			if idx >= len(doc.Accessors) {
				continue
			}
			if bounds := doc.Accessors[idx].Max; len(bounds) > 0 && float64(bounds[0]) > clip.Duration {
				clip.Duration = float64(bounds[0])
			}
		}
		clips = append(clips, clip)
	}
	return clips, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
