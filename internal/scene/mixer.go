package scene

import (
	"math"
	"sync"
)

// Mixer advances the actions bound to one mesh. The render loop calls Update while the
// animation state machine starts and stops actions, so every access is locked.
type Mixer struct {
	mu      sync.Mutex
	mesh    *Mesh
	actions map[*Clip]*Action
	elapsed float64
}

func NewMixer(mesh *Mesh) *Mixer {
	return &Mixer{
		mesh:    mesh,
		actions: make(map[*Clip]*Action),
	}
}

// ClipAction returns the single action for clip, creating it on first use.
func (m *Mixer) ClipAction(clip *Clip) *Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actions[clip]; ok {
		return a
	}
	a := &Action{clip: clip, mixer: m, loop: true}
	m.actions[clip] = a
	return a
}

// Update moves every running action forward by dt seconds.
func (m *Mixer) Update(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed += dt
	for _, a := range m.actions {
		a.advance(dt)
	}
}

// Running lists actions currently playing.
func (m *Mixer) Running() []*Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Action
	for _, a := range m.actions {
		if a.running {
			out = append(out, a)
		}
	}
	return out
}

// Elapsed is the total mixer time in seconds.
func (m *Mixer) Elapsed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// StopAll halts every action.
func (m *Mixer) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		a.running = false
		a.time = 0
	}
}

// Action is the playback state of one clip on the mixer.
type Action struct {
	clip    *Clip
	mixer   *Mixer
	time    float64
	running bool
	loop    bool
}

func (a *Action) Clip() *Clip {
	return a.clip
}

func (a *Action) Play() {
	a.mixer.mu.Lock()
	defer a.mixer.mu.Unlock()
	a.running = true
}

// Stop halts the action and rewinds it.
func (a *Action) Stop() {
	a.mixer.mu.Lock()
	defer a.mixer.mu.Unlock()
	a.running = false
	a.time = 0
}

// SetLoop chooses between repeating and clamping at the last frame.
func (a *Action) SetLoop(loop bool) {
	a.mixer.mu.Lock()
	defer a.mixer.mu.Unlock()
	a.loop = loop
}

func (a *Action) Running() bool {
	a.mixer.mu.Lock()
	defer a.mixer.mu.Unlock()
	return a.running
}

// Time is the local clip time in seconds.
func (a *Action) Time() float64 {
	a.mixer.mu.Lock()
	defer a.mixer.mu.Unlock()
	return a.time
}

// advance is called with the mixer locked.
func (a *Action) advance(dt float64) {
	if !a.running {
		return
	}
	a.time += dt
	d := a.clip.Duration
	if d <= 0 {
		return
	}
	if a.loop {
		a.time = math.Mod(a.time, d)
		return
	}
	if a.time >= d {
		a.time = d
		a.running = false
	}
}
