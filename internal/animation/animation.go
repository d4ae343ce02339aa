// Package animation switches the avatar between its idle and talking clips.
package animation

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/scene"
)

var ErrSceneNotReady = errors.New("scene not ready")

type State int

const (
	Idle State = iota
	Talking
)

func (s State) String() string {
	switch s {
	case Talking:
		return "talking"
	default:
		return "idle"
	}
}

// StateMachine owns the single current action. The session controller drives it and
// the render loop reads it; at most one action it started is ever running.
type StateMachine struct {
	mu      sync.Mutex
	scene   *scene.Scene
	state   State
	current *scene.Action
	log     *logrus.Entry
}

func NewStateMachine() *StateMachine {
	return &StateMachine{
		state: Idle,
		log:   logrus.WithField("component", "animation"),
	}
}

// Attach binds the machine to a loaded scene and starts the idle clip.
// A scene without an idle clip still attaches; the warning is returned.
func (m *StateMachine) Attach(sc *scene.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scene == sc {
		return nil
	}
	if m.current != nil {
		m.current.Stop()
		m.current = nil
	}
	m.scene = sc
	return m.restLocked()
}

// Talk moves Idle to Talking. Without a talking clip the state stays Idle with the
// idle clip still running, and a MissingClipWarning is returned.
func (m *StateMachine) Talk() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scene == nil {
		return ErrSceneNotReady
	}
	if m.state == Talking {
		return nil
	}
	clip, ok := m.scene.Clip(scene.ClipTalking)
	if !ok {
		m.log.Warn("talking animation not found, staying idle")
		return &scene.MissingClipWarning{Clip: scene.ClipTalking}
	}
	m.play(clip)
	m.state = Talking
	m.log.WithField("clip", clip.Name).Debug("Talking")
	return nil
}

// Rest returns to Idle. It is always legal, even before a scene is attached.
func (m *StateMachine) Rest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		return
	}
	if err := m.restLocked(); err != nil {
		m.log.Warn(err.Error())
	}
}

func (m *StateMachine) restLocked() error {
	m.state = Idle
	if m.scene == nil {
		return nil
	}
	clip, ok := m.scene.Clip(scene.ClipIdle)
	if !ok {
		if m.current != nil {
			m.current.Stop()
			m.current = nil
		}
		return &scene.MissingClipWarning{Clip: scene.ClipIdle}
	}
	m.play(clip)
	return nil
}

// play stops whatever is running before the next action starts.
func (m *StateMachine) play(clip *scene.Clip) {
	next := m.scene.Mixer.ClipAction(clip)
	if m.current != nil && m.current != next {
		m.current.Stop()
	}
	next.Play()
	m.current = next
}

func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current is the action the machine last started, nil when nothing is playing.
func (m *StateMachine) Current() *scene.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
