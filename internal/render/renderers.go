package render

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/animation"
	"talkinghead/internal/cli/scheme/colours"
)

// StatsRenderer draws nothing; it counts frames and logs a summary now and then.
type StatsRenderer struct {
	Interval time.Duration

	mu        sync.Mutex
	frames    uint64
	avatar    uint64
	talking   uint64
	lastLog   time.Time
	lastFrame Frame
}

func NewStatsRenderer(interval time.Duration) *StatsRenderer {
	return &StatsRenderer{Interval: interval, lastLog: time.Now()}
}

func (r *StatsRenderer) Render(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames++
	if frame.Scene != nil {
		r.avatar++
	}
	if frame.State == animation.Talking {
		r.talking++
	}
	r.lastFrame = frame

	if r.Interval > 0 && time.Since(r.lastLog) >= r.Interval {
		r.lastLog = time.Now()
		logrus.WithFields(logrus.Fields{
			"frames":  r.frames,
			"avatar":  r.avatar,
			"talking": r.talking,
			"state":   frame.State.String(),
		}).Debug("Render stats")
	}
	return nil
}

// Stats returns total frames, frames with the avatar drawn, and frames drawn talking.
func (r *StatsRenderer) Stats() (frames, avatar, talking uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.avatar, r.talking
}

func (r *StatsRenderer) Last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFrame
}

// ConsoleRenderer redraws a one-line status whenever the visible state changes.
type ConsoleRenderer struct {
	out io.Writer

	mu   sync.Mutex
	last string
}

func NewConsoleRenderer(out io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{out: out}
}

func (r *ConsoleRenderer) Render(frame Frame) error {
	line := r.describe(frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return nil
	}
	r.last = line
	_, err := fmt.Fprintln(r.out, line)
	return err
}

func (r *ConsoleRenderer) describe(frame Frame) string {
	if frame.Scene == nil {
		return colours.Info.Sprint("⏳ loading avatar...")
	}
	clip := "-"
	for _, a := range frame.Scene.Mixer.Running() {
		clip = a.Clip().Name
	}
	if frame.State == animation.Talking {
		return colours.Success.Sprintf("🗣️  %s talking (%s)", frame.Scene.Mesh.Name, clip)
	}
	return colours.Title.Sprintf("🙂 %s idle (%s)", frame.Scene.Mesh.Name, clip)
}
