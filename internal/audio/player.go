package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
)

// Player starts playback of a resource without blocking until it ends.
type Player interface {
	Play(res *Resource) (Playback, error)
}

// Playback is one running clip. Done closes on natural end and on Stop.
type Playback interface {
	Done() <-chan struct{}
	Stop()
}

type playback struct {
	done   chan struct{}
	once   sync.Once
	stopFn func()
}

func newPlayback() *playback {
	return &playback{done: make(chan struct{})}
}

func (p *playback) Done() <-chan struct{} {
	return p.done
}

func (p *playback) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *playback) Stop() {
	select {
	case <-p.done:
		return
	default:
	}
	if p.stopFn != nil {
		p.stopFn()
	}
	p.finish()
}

// SpeakerPlayer plays through the default output device.
type SpeakerPlayer struct {
	mu          sync.Mutex
	rate        beep.SampleRate
	initialized bool
	log         *logrus.Entry
}

func NewSpeakerPlayer(sampleRate int) *SpeakerPlayer {
	return &SpeakerPlayer{
		rate: beep.SampleRate(sampleRate),
		log:  logrus.WithField("component", "speaker"),
	}
}

func (p *SpeakerPlayer) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
		return fmt.Errorf("failed to init speaker: %w", err)
	}
	p.initialized = true
	return nil
}

func (p *SpeakerPlayer) Play(res *Resource) (Playback, error) {
	streamer, format, err := Decode(res)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s audio: %w", res.Format, err)
	}
	if err := p.init(); err != nil {
		streamer.Close()
		return nil, err
	}

	var source beep.Streamer = streamer
	if format.SampleRate != p.rate {
		source = beep.Resample(4, format.SampleRate, p.rate, streamer)
	}

	pb := newPlayback()
	ctrl := &beep.Ctrl{Streamer: source}
	pb.stopFn = func() {
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
	}

	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		streamer.Close()
		pb.finish()
	})))

	p.log.WithFields(logrus.Fields{
		"handle": res.Handle,
		"rate":   format.SampleRate,
	}).Debug("playback started")

	return pb, nil
}

// ClockPlayer plays nothing and ends after the decoded duration of the clip.
// It stands in for the speaker on hosts without an audio device.
type ClockPlayer struct {
	// Fallback is used when the payload cannot be decoded.
	Fallback time.Duration
}

func (p *ClockPlayer) Play(res *Resource) (Playback, error) {
	d, err := Duration(res)
	if err != nil {
		if p.Fallback <= 0 {
			return nil, err
		}
		d = p.Fallback
	}

	pb := newPlayback()
	timer := time.AfterFunc(d, pb.finish)
	pb.stopFn = func() { timer.Stop() }
	return pb, nil
}
