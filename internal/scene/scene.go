// Package scene loads the avatar mesh and its animation clip library, once.
package scene

import (
	"fmt"
	"strings"
)

// Clip names the rest of the system depends on.
const (
	ClipIdle    = "idle"
	ClipTalking = "talking"
)

// Stage identifies which asset failed to load.
type Stage string

const (
	StageMesh  Stage = "mesh"
	StageClips Stage = "clips"
)

// AssetLoadError leaves the loader permanently failed.
type AssetLoadError struct {
	Stage    Stage
	Location string
	Err      error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("failed to load %s from %s: %v", e.Stage, e.Location, e.Err)
}

func (e *AssetLoadError) Unwrap() error {
	return e.Err
}

// MissingClipWarning is non-fatal: the avatar runs with degraded fidelity.
type MissingClipWarning struct {
	Clip string
}

func (w *MissingClipWarning) Error() string {
	return fmt.Sprintf("%s animation not found", w.Clip)
}

// Surface is the display area frames are drawn into.
type Surface struct {
	Width  int
	Height int
}

func (s Surface) Aspect() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// Mesh is the opaque avatar root as far as the engine is concerned.
type Mesh struct {
	Name   string
	Nodes  []string
	Meshes int
	Skins  int
}

// Clip is a named animation sequence; Duration is in seconds.
type Clip struct {
	Name     string
	Duration float64
	Channels int
}

// Scene is the loaded avatar with its clips and the mixer that plays them.
type Scene struct {
	Mesh     *Mesh
	Mixer    *Mixer
	Surface  Surface
	Warnings []error

	clips map[string]*Clip
}

func newScene(mesh *Mesh, surface Surface) *Scene {
	return &Scene{
		Mesh:    mesh,
		Mixer:   NewMixer(mesh),
		Surface: surface,
		clips:   make(map[string]*Clip),
	}
}

// bindClips indexes clips case-insensitively; the first clip of a name wins.
func (s *Scene) bindClips(clips []*Clip) {
	for _, c := range clips {
		key := strings.ToLower(c.Name)
		if _, dup := s.clips[key]; !dup {
			s.clips[key] = c
		}
	}
	for _, required := range []string{ClipIdle, ClipTalking} {
		if _, ok := s.clips[required]; !ok {
			s.Warnings = append(s.Warnings, &MissingClipWarning{Clip: required})
		}
	}
}

// Clip looks a clip up by name, ignoring case.
func (s *Scene) Clip(name string) (*Clip, bool) {
	c, ok := s.clips[strings.ToLower(name)]
	return c, ok
}

// Clips returns every bound clip.
func (s *Scene) Clips() []*Clip {
	out := make([]*Clip, 0, len(s.clips))
	for _, c := range s.clips {
		out = append(out, c)
	}
	return out
}
