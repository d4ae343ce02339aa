package scene

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Loader builds the scene at most once no matter how many callers ask for it.
// The first EnsureLoaded starts the load; every caller, then and later, shares its outcome.
// A failed load stays failed for the life of the Loader.
type Loader struct {
	source        Source
	meshLocation  string
	clipsLocation string
	timeout       time.Duration

	mu      sync.Mutex
	started bool
	loads   int
	done    chan struct{}
	scene   *Scene
	err     error
	log     *logrus.Entry
}

func NewLoader(source Source, meshLocation, clipsLocation string) *Loader {
	return &Loader{
		source:        source,
		meshLocation:  meshLocation,
		clipsLocation: clipsLocation,
		done:          make(chan struct{}),
		log:           logrus.WithField("component", "scene"),
	}
}

// SetTimeout bounds the whole load. Zero means no limit.
func (l *Loader) SetTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = d
}

// EnsureLoaded returns the loaded scene, starting the load if nobody has yet.
// ctx only bounds this caller's wait; the load itself carries on for the others.
func (l *Loader) EnsureLoaded(ctx context.Context, surface Surface) (*Scene, error) {
	l.mu.Lock()
	if !l.started {
		l.started = true
		l.loads++
		go l.load(surface, l.timeout)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return l.scene, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(surface Surface, timeout time.Duration) {
	defer close(l.done)

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	l.log.WithField("mesh", l.meshLocation).Info("Loading avatar mesh")
	mesh, err := l.source.LoadMesh(ctx, l.meshLocation)
	if err != nil {
		l.err = &AssetLoadError{Stage: StageMesh, Location: l.meshLocation, Err: err}
		l.log.WithError(err).Error("Failed to load avatar mesh")
		return
	}

	// the mixer is bound to the mesh, so clips can only be attached once it exists
	scene := newScene(mesh, surface)

	l.log.WithField("clips", l.clipsLocation).Info("Loading animation clips")
	clips, err := l.source.LoadClips(ctx, l.clipsLocation)
	if err != nil {
		l.err = &AssetLoadError{Stage: StageClips, Location: l.clipsLocation, Err: err}
		l.log.WithError(err).Error("Failed to load animation clips")
		return
	}
	scene.bindClips(clips)

	for _, w := range scene.Warnings {
		l.log.Warn(w.Error())
	}

	l.log.WithFields(logrus.Fields{
		"mesh":    mesh.Name,
		"clips":   len(clips),
		"elapsed": time.Since(start),
	}).Info("Scene ready")

	l.scene = scene
}

// Ready reports whether the scene loaded successfully.
func (l *Loader) Ready() bool {
	select {
	case <-l.done:
		return l.err == nil
	default:
		return false
	}
}

// Scene returns the loaded scene, or nil before a successful load completes.
func (l *Loader) Scene() *Scene {
	if !l.Ready() {
		return nil
	}
	return l.scene
}

// Err returns the load failure, if the load has finished and failed.
func (l *Loader) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Loads counts how many loads were started; it never exceeds one.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
