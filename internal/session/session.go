package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/logging"
)

// Mode is the session routing mode.
type Mode string

const (
	// ModeSingle routes audio to exactly one active agent.
	ModeSingle Mode = "single"
	// ModeDual routes the same audio to a fixed pair of agents so their
	// responses can be compared.
	ModeDual Mode = "dual"
)

// Factory creates one adapter per (session, agent type), bound to the
// session's events hub.
type Factory func(id agent.ID, ev *agent.Events) (agent.Adapter, error)

// Config carries the session routing policies.
type Config struct {
	// KeepWarmOnSwap keeps previously active adapters connected after a
	// swap so swapping back is fast, at the cost of idle provider
	// connections.
	KeepWarmOnSwap bool
	// DualPair is the fixed agent pair activated in dual mode.
	DualPair [2]agent.ID
}

func (c Config) withDefaults() Config {
	if c.DualPair == ([2]agent.ID{}) {
		c.DualPair = [2]agent.ID{agent.Realtime, agent.ConvAI}
	}
	return c
}

// Snapshot is the wire-friendly view of session state.
type Snapshot struct {
	ID         string                    `json:"id"`
	Mode       Mode                      `json:"mode"`
	Primary    agent.ID                  `json:"primaryAgent"`
	SampleRate int                       `json:"sampleRate"`
	Agents     map[agent.ID]agent.Status `json:"agents"`
}

// Session owns the routing state and live adapters for one client
// connection. All state mutation happens here, driven by control commands
// and adapter status callbacks; sessions never share adapters or state.
type Session struct {
	id      string
	cfg     Config
	factory Factory
	ev      *agent.Events

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	mode     Mode
	primary  agent.ID
	active   map[agent.ID]struct{}
	adapters map[agent.ID]agent.Adapter
	closed   bool
}

// New constructs a session with the given initial primary agent. No
// provider connection is opened until Start.
func New(cfg Config, primary agent.ID, factory Factory) (*Session, error) {
	if !primary.Valid() {
		return nil, fmt.Errorf("unknown agent %q", primary)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg.withDefaults(),
		factory:  factory,
		ev:       agent.NewEvents(),
		ctx:      ctx,
		cancel:   cancel,
		mode:     ModeSingle,
		primary:  primary,
		active:   map[agent.ID]struct{}{primary: {}},
		adapters: make(map[agent.ID]agent.Adapter),
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the session's outbound event hub.
func (s *Session) Events() *agent.Events { return s.ev }

// Primary returns the current primary agent.
func (s *Session) Primary() agent.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// ensureAdapter lazily creates the adapter for id. It must be called with
// s.mu held. Instances are reused across swaps and never recreated.
func (s *Session) ensureAdapter(id agent.ID) (agent.Adapter, error) {
	if ad, ok := s.adapters[id]; ok {
		return ad, nil
	}
	ad, err := s.factory(id, s.ev)
	if err != nil {
		return nil, err
	}
	s.adapters[id] = ad
	return ad, nil
}

func (s *Session) connectAsync(ad agent.Adapter) {
	go func() {
		// Connect reports failures through status/error events; the
		// session stays usable with zero connected agents.
		if err := ad.Connect(s.ctx); err != nil {
			logging.Warnw("agent connect failed", "session", s.id, "agent", ad.ID(), "err", err)
		}
	}()
}

// Start connects the current primary adapter. No-op when it is already
// connecting or connected.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	ad, err := s.ensureAdapter(s.primary)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.connectAsync(ad)
	return nil
}

// Stop disconnects every instantiated adapter but keeps the session open
// for further control messages.
func (s *Session) Stop() {
	s.mu.Lock()
	ads := s.instantiated()
	s.mu.Unlock()
	for _, ad := range ads {
		ad.Disconnect()
	}
}

// Swap makes id the primary agent. In single mode the active set follows
// the primary; previously active adapters stay connected when the
// keep-warm policy is on. Swapping to an agent outside the dual pair
// leaves dual mode, since the pair is fixed and the primary must stay in
// the active set.
func (s *Session) Swap(id agent.ID) error {
	if !id.Valid() {
		return fmt.Errorf("unknown agent %q", id)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	s.primary = id
	if s.mode == ModeSingle {
		s.active = map[agent.ID]struct{}{id: {}}
	} else if _, ok := s.active[id]; !ok {
		s.mode = ModeSingle
		s.active = map[agent.ID]struct{}{id: {}}
	}
	ad, err := s.ensureAdapter(id)
	var cold []agent.Adapter
	if err == nil && !s.cfg.KeepWarmOnSwap {
		cold = s.inactiveInstantiated()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range cold {
		c.Disconnect()
	}
	s.connectAsync(ad)
	return nil
}

// ToggleDual enters or leaves dual mode. Entering activates the fixed pair
// and connects both; one agent's failure never blocks the other. Leaving
// collapses the active set back to the primary.
func (s *Session) ToggleDual(enabled bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if enabled {
		s.mode = ModeDual
		s.active = map[agent.ID]struct{}{s.cfg.DualPair[0]: {}, s.cfg.DualPair[1]: {}}
		if _, ok := s.active[s.primary]; !ok {
			s.primary = s.cfg.DualPair[0]
		}
		var toConnect []agent.Adapter
		var err error
		for id := range s.active {
			ad, aerr := s.ensureAdapter(id)
			if aerr != nil {
				err = aerr
				continue
			}
			toConnect = append(toConnect, ad)
		}
		var cold []agent.Adapter
		if !s.cfg.KeepWarmOnSwap {
			cold = s.inactiveInstantiated()
		}
		s.mu.Unlock()
		for _, c := range cold {
			c.Disconnect()
		}
		// Independent connects: failures are isolated per agent.
		for _, ad := range toConnect {
			s.connectAsync(ad)
		}
		return err
	}
	s.mode = ModeSingle
	s.active = map[agent.ID]struct{}{s.primary: {}}
	var cold []agent.Adapter
	if !s.cfg.KeepWarmOnSwap {
		cold = s.inactiveInstantiated()
	}
	s.mu.Unlock()
	for _, c := range cold {
		c.Disconnect()
	}
	return nil
}

// Select picks one agent out of dual mode: the chosen agent becomes the
// primary and the session returns to single mode.
func (s *Session) Select(id agent.ID) error {
	if !id.Valid() {
		return fmt.Errorf("unknown agent %q", id)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	s.primary = id
	s.mode = ModeSingle
	s.active = map[agent.ID]struct{}{id: {}}
	ad, err := s.ensureAdapter(id)
	var cold []agent.Adapter
	if err == nil && !s.cfg.KeepWarmOnSwap {
		cold = s.inactiveInstantiated()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range cold {
		c.Disconnect()
	}
	s.connectAsync(ad)
	return nil
}

// RouteAudio forwards one input frame to every active, connected adapter.
// Adapters that are not connected never see the frame; nothing is queued,
// the caller re-sends once status becomes connected.
func (s *Session) RouteAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	targets := make([]agent.Adapter, 0, len(s.active))
	for id := range s.active {
		if ad, ok := s.adapters[id]; ok {
			targets = append(targets, ad)
		}
	}
	s.mu.Unlock()
	for _, ad := range targets {
		if ad.Status() == agent.StatusConnected {
			ad.SendAudio(pcm)
		}
	}
}

// MicRelease signals end-of-utterance to every active, connected adapter
// (push-to-talk commit).
func (s *Session) MicRelease() {
	s.mu.Lock()
	targets := make([]agent.Adapter, 0, len(s.active))
	for id := range s.active {
		if ad, ok := s.adapters[id]; ok {
			targets = append(targets, ad)
		}
	}
	s.mu.Unlock()
	for _, ad := range targets {
		if ad.Status() == agent.StatusConnected {
			ad.CommitTurn()
		}
	}
}

// Close tears the session down: every instantiated adapter is disconnected
// exactly once and in-flight work is abandoned. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ads := s.instantiated()
	s.mu.Unlock()

	s.cancel()
	for _, ad := range ads {
		ad.Disconnect()
	}
	s.ev.Close()
	logging.Infow("session closed", "session", s.id)
}

// Snapshot returns the current state for the wire. The sample rate always
// matches what the primary adapter requires.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents := make(map[agent.ID]agent.Status, len(s.adapters))
	for id, ad := range s.adapters {
		agents[id] = ad.Status()
	}
	// An adapter created after Close would never be disconnected, so the
	// lazy instantiation for the rate only happens while the session is
	// open.
	rate := 0
	if !s.closed {
		if ad, err := s.ensureAdapter(s.primary); err == nil {
			rate = ad.RequiredSampleRate()
			if _, ok := agents[s.primary]; !ok {
				agents[s.primary] = ad.Status()
			}
		}
	} else if ad, ok := s.adapters[s.primary]; ok {
		rate = ad.RequiredSampleRate()
	}
	return Snapshot{
		ID:         s.id,
		Mode:       s.mode,
		Primary:    s.primary,
		SampleRate: rate,
		Agents:     agents,
	}
}

// instantiated returns all created adapters. Callers hold s.mu.
func (s *Session) instantiated() []agent.Adapter {
	out := make([]agent.Adapter, 0, len(s.adapters))
	for _, ad := range s.adapters {
		out = append(out, ad)
	}
	return out
}

// inactiveInstantiated returns created adapters outside the active set.
// Callers hold s.mu.
func (s *Session) inactiveInstantiated() []agent.Adapter {
	out := make([]agent.Adapter, 0, len(s.adapters))
	for id, ad := range s.adapters {
		if _, ok := s.active[id]; !ok {
			out = append(out, ad)
		}
	}
	return out
}
