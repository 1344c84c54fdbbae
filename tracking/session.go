package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/a-bouts/geo-anchor/asset"
	"github.com/a-bouts/geo-anchor/latlon"
	"github.com/a-bouts/geo-anchor/pose"
)

var (
	ErrAnchorNotDetected = errors.New("reference image not detected yet")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnlocatable       = errors.New("device pose cannot be located")
)

// Notifier is told when a session first sees its reference image.
type Notifier interface {
	Send(message string) error
}

type Options struct {
	Reference        GeoReference
	GeohashPrecision uint

	// Formula takes over the destination step when set. The readout always
	// measures the leg back from the reference with it, haversine by
	// default.
	Formula latlon.LatLonInterface

	// Loader and ReferenceModel are optional: without them nothing is loaded
	// on detection.
	Loader         asset.Loader
	ReferenceModel string

	Notifier Notifier
}

// Session holds the state of one AR viewer: the anchor frame once the
// reference image has been seen, and the last device pose. Anchor and device
// updates are applied one at a time.
type Session struct {
	ID string

	opts Options
	now  func() time.Time

	mu       sync.Mutex
	anchor   *pose.AnchorFrame
	device   *pose.Pose
	model    *asset.Model
	task     *asset.Task
	lastSeen time.Time
	closed   bool
}

func NewSession(id string, opts Options) *Session {
	s := &Session{
		ID:   id,
		opts: opts,
		now:  time.Now,
	}
	s.lastSeen = s.now()
	return s
}

// OnAnchorPoseUpdate is called on first detection of the reference image
// and on every tracking update after it. The last update wins.
func (s *Session) OnAnchorPoseUpdate(p pose.Pose) pose.AnchorFrame {
	frame := pose.UpdateAnchorFrame(p)

	s.mu.Lock()
	first := s.anchor == nil
	s.anchor = &frame
	s.lastSeen = s.now()
	s.mu.Unlock()

	if first {
		s.detected(frame)
	} else {
		log.WithField("session", s.ID).Tracef("Anchor (%.2f, %.2f)", frame.Translation.X, frame.Translation.Z)
	}

	return frame
}

// OnDevicePoseUpdate records the device pose of the current frame and
// locates it. Before the first anchor update it returns ErrAnchorNotDetected
// and the caller should not display anything.
func (s *Session) OnDevicePoseUpdate(p pose.Pose) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.device = &p
	s.lastSeen = s.now()

	if s.anchor == nil {
		return Fix{}, ErrAnchorNotDetected
	}

	return s.locate(p.Translation)
}

// locate must be called with mu held and an anchor set.
func (s *Session) locate(device r3.Vec) (Fix, error) {
	f := LocateWith(s.opts.Formula, device, *s.anchor, s.opts.Reference)
	if !f.finite() {
		return Fix{}, ErrUnlocatable
	}
	f.encodeGeohash(s.opts.GeohashPrecision)
	return f, nil
}

func (s *Session) formula() latlon.LatLonInterface {
	if s.opts.Formula != nil {
		return s.opts.Formula
	}
	return latlon.LatLonHaversine{}
}

// GroundPoint is a position on the horizontal plane of the AR world.
type GroundPoint struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Snapshot is the status readout of a session.
type Snapshot struct {
	ID       string       `json:"id"`
	Detected bool         `json:"detected"`
	Model    *asset.Model `json:"model,omitempty"`
	User     *GroundPoint `json:"user,omitempty"`
	Anchor   *GroundPoint `json:"anchor,omitempty"`
	Fix      *Fix         `json:"fix,omitempty"`
	Leg      *Leg         `json:"leg,omitempty"`
	LastSeen time.Time    `json:"lastSeen"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:       s.ID,
		Detected: s.anchor != nil,
		LastSeen: s.lastSeen,
	}
	if s.model != nil {
		m := *s.model
		snap.Model = &m
	}
	if s.device != nil {
		snap.User = &GroundPoint{X: s.device.Translation.X, Z: s.device.Translation.Z}
	}
	if s.anchor != nil {
		snap.Anchor = &GroundPoint{X: s.anchor.Translation.X, Z: s.anchor.Translation.Z}
	}
	if s.anchor != nil && s.device != nil {
		if f, err := s.locate(s.device.Translation); err == nil {
			leg := measureLeg(s.formula(), s.opts.Reference, f)
			snap.Fix = &f
			snap.Leg = &leg
		}
	}

	return snap
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close stops a pending model load. No load starts after Close.
func (s *Session) Close() {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.closed = true
	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

func (s *Session) detected(frame pose.AnchorFrame) {
	logger := log.WithField("session", s.ID)
	logger.Infof("Reference image detected at (%.2f, %.2f)", frame.Translation.X, frame.Translation.Z)

	if n := s.opts.Notifier; n != nil {
		msg := fmt.Sprintf("Session %s: reference image detected at (%.6f, %.6f)", s.ID, s.opts.Reference.Position.Lat, s.opts.Reference.Position.Lon)
		go func() {
			if err := n.Send(msg); err != nil {
				logger.WithError(err).Warn("Error sending detection notice")
			}
		}()
	}

	if s.opts.Loader == nil || s.opts.ReferenceModel == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		logger.Debug("Session closed, model not loaded")
		return
	}
	s.task = asset.Start(context.Background(), s.opts.Loader, s.opts.ReferenceModel, func(m asset.Model, err error) {
		if err != nil {
			logger.WithError(err).Errorf("Error loading model '%s'", s.opts.ReferenceModel)
			s.finishLoad(nil)
			return
		}
		logger.Infof("Model '%s' attached", m.Name)
		s.finishLoad(&m)
	})
}

func (s *Session) finishLoad(m *asset.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
	s.task = nil
}
