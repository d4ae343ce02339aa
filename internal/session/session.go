// Package session turns speak requests into audio playback and avatar animation,
// with at most one session active at a time.
package session

import (
	"context"
	"errors"
	"time"

	"talkinghead/internal/animation"
	"talkinghead/internal/audio"
	"talkinghead/internal/journal"
	"talkinghead/internal/scene"
)

var (
	// ErrSuperseded is returned to a Speak whose session was replaced before it finished.
	ErrSuperseded = errors.New("session superseded")
	ErrClosed     = errors.New("session controller closed")
)

type Status int

const (
	Pending Status = iota
	Ready
	Playing
	Ended
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Ended:
		return "ended"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the status still counts as the live session.
func (s Status) Active() bool {
	return s == Pending || s == Ready || s == Playing
}

// Session is one speak attempt. Its fields are guarded by the controller lock.
type Session struct {
	ID        string
	Epoch     uint64
	Text      string
	StartedAt time.Time

	status   Status
	audio    *audio.Resource
	playback audio.Playback
	err      error
	cancel   context.CancelFunc
}

// Info is a copy of a session's visible state.
type Info struct {
	ID     string
	Epoch  uint64
	Text   string
	Status Status
	Handle string
	Err    error
}

// Synthesizer turns text into an owned audio resource. speech.Client fits.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.Resource, error)
}

// SceneLoader yields the shared scene, loading it on first use. scene.Loader fits.
type SceneLoader interface {
	EnsureLoaded(ctx context.Context, surface scene.Surface) (*scene.Scene, error)
}

// Animator is the avatar state machine. animation.StateMachine fits.
type Animator interface {
	Attach(sc *scene.Scene) error
	Talk() error
	Rest()
	State() animation.State
}

// Reporter is the host boundary. It is called with the controller locked and must
// not call back into the controller.
type Reporter interface {
	Report(sessionID, handle string)
	Fail(sessionID string, err error)
}

// Journal records every status transition.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// RenderLoop is the frame driver the controller starts and stops. render.Driver fits.
type RenderLoop interface {
	Start(ctx context.Context) error
	Stop()
}
