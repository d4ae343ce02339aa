package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
	"talkinghead/internal/journal"
	"talkinghead/internal/scene"
	"talkinghead/internal/speech"
)

// journalBuffer bounds the transitions waiting for the journal writer.
const journalBuffer = 256

type Options struct {
	Surface scene.Surface
	Journal Journal
	Render  RenderLoop
	// Preload starts loading the scene in Start instead of on the first synthesized speech.
	Preload bool
}

// Controller owns the current session. Every step of Speak that resumes after a
// blocking call re-checks that its session is still current before touching audio,
// animation or the host; stale results are released and dropped.
type Controller struct {
	synth    Synthesizer
	loader   SceneLoader
	anim     Animator
	player   audio.Player
	reporter Reporter
	render   RenderLoop
	surface  scene.Surface
	preload  bool

	// journal writes happen on their own goroutine, never under mu
	journal     Journal
	events      chan journal.Entry
	journalDone chan struct{}

	mu      sync.Mutex
	epoch   uint64
	current *Session
	closed  bool
	log     *logrus.Entry
}

func NewController(synth Synthesizer, loader SceneLoader, anim Animator, player audio.Player, reporter Reporter, opts Options) *Controller {
	c := &Controller{
		synth:    synth,
		loader:   loader,
		anim:     anim,
		player:   player,
		reporter: reporter,
		journal:  opts.Journal,
		render:   opts.Render,
		surface:  opts.Surface,
		preload:  opts.Preload,
		log:      logrus.WithField("component", "session"),
	}
	if c.journal != nil {
		c.events = make(chan journal.Entry, journalBuffer)
		c.journalDone = make(chan struct{})
		go c.writeJournal(c.events)
	}
	return c
}

// Start launches the render loop. The scene is loaded by the first successful
// synthesis unless Preload is set.
func (c *Controller) Start(ctx context.Context) error {
	if c.render != nil {
		if err := c.render.Start(ctx); err != nil {
			return err
		}
	}
	if !c.preload {
		return nil
	}
	go func() {
		sc, err := c.loader.EnsureLoaded(ctx, c.surface)
		if err != nil {
			c.log.WithError(err).Warn("Scene preload failed")
			return
		}
		if err := c.anim.Attach(sc); err != nil {
			c.log.Warn(err.Error())
		}
	}()
	return nil
}

// Speak starts a session for text and returns once it is Playing or has failed.
// Repeating the text of the session that is Playing stops it instead.
func (c *Controller) Speak(ctx context.Context, text string) error {
	run, err := c.Begin(ctx, text)
	if err != nil || run == nil {
		return err
	}
	return run()
}

// Begin is the part of Speak that takes effect in call order: the input check, the
// toggle, superseding the previous session and assigning the new epoch. It returns the
// rest of the session (synthesis, scene load, playback) for the caller to run, possibly
// on another goroutine, or nil when the call stopped the playing session.
func (c *Controller) Begin(ctx context.Context, text string) (func() error, error) {
	if strings.TrimSpace(text) == "" {
		c.reporter.Fail("", speech.ErrNoInput)
		return nil, speech.ErrNoInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if cur := c.current; cur != nil && cur.status == Playing && cur.Text == text {
		c.log.WithField("session", cur.ID).Info("Same text while playing, stopping")
		c.stopLocked(cur)
		return nil, nil
	}
	if cur := c.current; cur != nil {
		c.supersedeLocked(cur)
	}

	c.epoch++
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:        uuid.NewString(),
		Epoch:     c.epoch,
		Text:      text,
		StartedAt: time.Now(),
		status:    Pending,
		cancel:    cancel,
	}
	c.current = s
	c.record(s)
	return func() error { return c.run(sctx, s) }, nil
}

func (c *Controller) run(sctx context.Context, s *Session) error {
	log := c.log.WithFields(logrus.Fields{"session": s.ID, "epoch": s.Epoch})

	c.mu.Lock()
	if !c.isCurrentLocked(s) {
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return ErrSuperseded
	}
	c.mu.Unlock()

	log.Info("Synthesizing speech")
	res, err := c.synth.Synthesize(sctx, s.Text)

	c.mu.Lock()
	if !c.isCurrentLocked(s) {
		c.mu.Unlock()
		if res != nil {
			res.Release()
		}
		log.Debug("Discarding synthesis for superseded session")
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(s, err)
		c.mu.Unlock()
		return err
	}
	s.audio = res
	s.status = Ready
	c.record(s)
	c.mu.Unlock()

	sc, err := c.loader.EnsureLoaded(sctx, c.surface)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(s) {
		// supersede already released the audio
		log.Debug("Discarding scene for superseded session")
		return ErrSuperseded
	}
	if err != nil {
		c.failLocked(s, err)
		return err
	}
	if err := c.anim.Attach(sc); err != nil {
		log.Warn(err.Error())
	}

	pb, err := c.player.Play(s.audio)
	if err != nil {
		c.failLocked(s, err)
		return err
	}
	s.playback = pb
	s.status = Playing
	if err := c.anim.Talk(); err != nil {
		var missing *scene.MissingClipWarning
		if !errors.As(err, &missing) {
			log.WithError(err).Warn("Could not start talking animation")
		}
	}
	c.record(s)
	go c.awaitEnd(s, pb)

	log.WithField("handle", s.audio.Handle).Info("Session playing")
	c.reporter.Report(s.ID, s.audio.Handle)
	return nil
}

// Stop ends the Playing session. With nothing playing it does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.status == Playing {
		c.stopLocked(c.current)
	}
}

// Close ends and releases the current session and stops the render loop.
// Later Speak calls fail with ErrClosed. Pending journal writes are flushed first.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.current != nil {
		c.supersedeLocked(c.current)
	}
	if c.events != nil {
		close(c.events)
		c.events = nil
	}
	c.mu.Unlock()

	if c.render != nil {
		c.render.Stop()
	}
	if c.journalDone != nil {
		<-c.journalDone
	}
	c.log.Info("Session controller closed")
}

// Current describes the latest session, or returns false before the first Speak.
func (c *Controller) Current() (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.current
	if s == nil {
		return Info{}, false
	}
	info := Info{ID: s.ID, Epoch: s.Epoch, Text: s.Text, Status: s.status, Err: s.err}
	if s.audio != nil && !s.audio.Released() {
		info.Handle = s.audio.Handle
	}
	return info, true
}

// awaitEnd moves the session to Ended when its audio finishes on its own.
// The resource stays valid for the host until the session is replaced or stopped.
func (c *Controller) awaitEnd(s *Session, pb audio.Playback) {
	<-pb.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isCurrentLocked(s) || s.status != Playing {
		return
	}
	s.status = Ended
	s.cancel()
	c.anim.Rest()
	c.record(s)
	c.log.WithField("session", s.ID).Info("Playback finished")
}

func (c *Controller) isCurrentLocked(s *Session) bool {
	return c.current == s && s.Epoch == c.epoch && !c.closed
}

func (c *Controller) stopLocked(s *Session) {
	if s.playback != nil {
		s.playback.Stop()
	}
	if s.audio != nil {
		s.audio.Release()
	}
	s.cancel()
	c.anim.Rest()
	s.status = Ended
	c.record(s)
	c.log.WithField("session", s.ID).Info("Session stopped")
}

// supersedeLocked tears down s synchronously: cancel its request, stop and release
// its audio, return the avatar to idle. An in-flight Speak for s sees the epoch
// change when it resumes and drops its result.
func (c *Controller) supersedeLocked(s *Session) {
	s.cancel()
	if s.playback != nil {
		s.playback.Stop()
	}
	if s.audio != nil {
		s.audio.Release()
	}
	c.anim.Rest()
	if s.status.Active() {
		s.status = Ended
		s.err = ErrSuperseded
		c.record(s)
		c.log.WithField("session", s.ID).Info("Session superseded")
	}
}

func (c *Controller) failLocked(s *Session, err error) {
	s.status = Failed
	s.err = err
	s.cancel()
	if s.audio != nil {
		s.audio.Release()
	}
	c.anim.Rest()
	c.record(s)
	c.log.WithError(err).WithField("session", s.ID).Error("Session failed")
	c.reporter.Fail(s.ID, err)
}

// record queues the session's current status for the journal. Called with mu held,
// so it never waits on the database.
func (c *Controller) record(s *Session) {
	if c.events == nil {
		return
	}
	e := journal.Entry{
		SessionID: s.ID,
		Epoch:     s.Epoch,
		Text:      s.Text,
		Status:    s.status.String(),
		CreatedAt: time.Now().UTC(),
	}
	if s.err != nil {
		e.Error = s.err.Error()
	}
	select {
	case c.events <- e:
	default:
		c.log.WithField("session", s.ID).Warn("Journal backlog full, dropping session event")
	}
}

func (c *Controller) writeJournal(events <-chan journal.Entry) {
	defer close(c.journalDone)
	for e := range events {
		if err := c.journal.Record(context.Background(), e); err != nil {
			c.log.WithError(err).Warn("Failed to record session event")
		}
	}
}
