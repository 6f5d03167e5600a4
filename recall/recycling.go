package recall

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dudk/sequencer/audio"
	"github.com/dudk/sequencer/identity"
	"github.com/dudk/sequencer/log"
	"github.com/dudk/sequencer/metric"
)

var (
	// ErrChildAllocation is returned when child factory fails.
	ErrChildAllocation = errors.New("child allocation failed")
	// ErrTemplateSpawn is used to cause a panic when template recall is
	// about to spawn a child.
	ErrTemplateSpawn = errors.New("template recall can't spawn children")
	// ErrDuplicateChild is used to cause a panic when second live child is
	// attached for the same audio signal.
	ErrDuplicateChild = errors.New("duplicate live child for audio signal")
)

type (
	// Target is a destination channel. Recycling doesn't spawn children
	// until the target holds a recall id bound to the parent of own
	// context.
	Target interface {
		FindRecallID(identity.Context) *identity.RecallID
	}

	// ChildSpec contains all parameters of a new child.
	ChildSpec struct {
		Registry     *Registry
		AudioChannel int
		Source       *audio.Signal
		Destination  *audio.Signal
		RecallID     *identity.RecallID
		Scopes       identity.ScopeSet
	}

	// ChildFactory builds a child for adopted audio signal. Returned unit
	// must be registered within spec registry.
	ChildFactory func(ChildSpec) (Unit, error)

	runner interface {
		Run() (bool, error)
	}

	// Option configures recycling.
	Option func(*Recycling)

	// Recycling spawns one child per audio signal which enters its source
	// recycling and belongs to the same recycling context. Child is marked
	// done when signal leaves the source.
	Recycling struct {
		Recall
		logger  log.Logger
		factory ChildFactory
		// own meter counts filtered signals and spawned children.
		own *metric.Meter

		// connMu serializes connect, disconnect and source swaps. It's
		// never taken on the audio path.
		connMu     sync.Mutex
		subscribed *audio.Recycling
		sub        audio.Subscription

		ioMu             sync.Mutex
		audioChannel     int
		mapChildSource   bool
		source           *audio.Recycling
		destination      *audio.Recycling
		childDestination *audio.Signal
		childSource      []*audio.Signal
		target           Target
		// live holds the child of each adopted signal.
		live    map[*audio.Signal]slot
		tickets uint64
	}

	// slot without child is a reservation of child which is being built.
	slot struct {
		child  Unit
		ticket uint64
	}
)

// NewRecycling creates recycling and registers it within registry.
// Templates must have nil id.
func NewRecycling(reg *Registry, kind string, id *identity.RecallID, options ...Option) *Recycling {
	r := &Recycling{
		logger:         log.Silent(),
		mapChildSource: true,
		live:           make(map[*audio.Signal]slot),
	}
	r.init(kind, 0, identity.AllScopes, id)
	for _, option := range options {
		option(r)
	}
	r.own = reg.meter(kind)
	reg.register(r)
	r.OnDispose(func() { r.Disconnect() })
	return r
}

// AsTemplate makes recycling a template.
func AsTemplate() Option {
	return func(r *Recycling) {
		r.flags |= Template
	}
}

// WithFlags sets recall flags.
func WithFlags(f Flags) Option {
	return func(r *Recycling) {
		r.flags |= f
	}
}

// WithScopes sets accepted sound scopes.
func WithScopes(s identity.ScopeSet) Option {
	return func(r *Recycling) {
		r.scopes = s
	}
}

// WithAudioChannel sets audio channel index.
func WithAudioChannel(n int) Option {
	return func(r *Recycling) {
		r.audioChannel = n
	}
}

// WithSource sets source recycling.
func WithSource(s *audio.Recycling) Option {
	return func(r *Recycling) {
		r.source = s
	}
}

// WithDestination sets destination recycling.
func WithDestination(d *audio.Recycling) Option {
	return func(r *Recycling) {
		r.destination = d
	}
}

// WithChildDestination sets signal which children write into.
func WithChildDestination(s *audio.Signal) Option {
	return func(r *Recycling) {
		r.childDestination = s
	}
}

// WithTarget sets destination channel which must be ready before
// children spawn.
func WithTarget(t Target) Option {
	return func(r *Recycling) {
		r.target = t
	}
}

// WithChildFactory sets factory of children. Recycling without factory
// never spawns.
func WithChildFactory(f ChildFactory) Option {
	return func(r *Recycling) {
		r.factory = f
	}
}

// WithMapChildSource sets policy of tracking adopted signals in child
// source.
func WithMapChildSource(enabled bool) Option {
	return func(r *Recycling) {
		r.mapChildSource = enabled
	}
}

// WithLogger sets recycling logger.
func WithLogger(l log.Logger) Option {
	return func(r *Recycling) {
		r.logger = l
	}
}

// Connect subscribes recycling to its source. False is returned if it's
// already connected, is a template or has no source.
func (r *Recycling) Connect() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.subscribed != nil || r.HasFlags(Template) {
		return false
	}
	r.ioMu.Lock()
	source := r.source
	r.ioMu.Unlock()
	if source == nil {
		return false
	}
	r.sub = source.Subscribe(r)
	r.subscribed = source
	return true
}

// Disconnect unsubscribes recycling from its source. Children stay as
// they are. False is returned if it wasn't connected.
func (r *Recycling) Disconnect() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.subscribed == nil {
		return false
	}
	r.subscribed.Unsubscribe(r.sub)
	r.subscribed = nil
	return true
}

// IsConnected returns true if recycling is subscribed to its source.
func (r *Recycling) IsConnected() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.subscribed != nil
}

// SignalAdded adopts audio signal which entered the source. Signals which
// don't belong to recycling context are ignored.
func (r *Recycling) SignalAdded(s *audio.Signal) error {
	if reason, ok := r.accepts(s); !ok {
		r.own.Filtered(reason)
		return nil
	}
	own, sid := r.RecallID(), s.RecallID()

	r.ioMu.Lock()
	target := r.target
	r.ioMu.Unlock()
	if target != nil {
		// toplevel recall has no parent to wait for, it never gets ready.
		if parent := r.reg.tree.Parent(own.Context()); parent.IsZero() || target.FindRecallID(parent) == nil {
			r.own.Filtered(metric.ReasonDestinationPending)
			return nil
		}
	}

	scopes := r.Scopes()
	if !scopes.Has(sid.Scope()) {
		r.own.Filtered(metric.ReasonScopeMismatch)
		return nil
	}
	if r.factory == nil {
		r.logger.Debug(r, " has no child factory, ignored ", s)
		return nil
	}
	if r.HasFlags(Template) {
		panic(ErrTemplateSpawn)
	}

	r.ioMu.Lock()
	if v, ok := r.live[s]; ok && (v.child == nil || !v.child.Base().IsDone()) {
		r.ioMu.Unlock()
		return nil
	}
	r.tickets++
	ticket := r.tickets
	r.live[s] = slot{ticket: ticket}
	spec := ChildSpec{
		Registry:     r.reg,
		AudioChannel: r.audioChannel,
		Source:       s,
		Destination:  r.childDestination,
		RecallID:     sid,
		Scopes:       scopes,
	}
	r.ioMu.Unlock()

	child, err := r.factory(spec)
	if err != nil {
		r.ioMu.Lock()
		if v, ok := r.live[s]; ok && v.ticket == ticket {
			delete(r.live, s)
		}
		r.ioMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrChildAllocation, r, err)
	}
	r.reg.attach(r, child, r.own)
	r.own.Spawned()

	r.ioMu.Lock()
	v, ok := r.live[s]
	reserved := ok && v.ticket == ticket
	if reserved {
		if v.child != nil {
			r.ioMu.Unlock()
			panic(ErrDuplicateChild)
		}
		r.live[s] = slot{child: child, ticket: ticket}
		if r.mapChildSource && !containsSignal(r.childSource, s) {
			r.childSource = append(r.childSource, s)
		}
	}
	r.ioMu.Unlock()

	if !reserved {
		// signal left the source while child was being built.
		r.reg.Done(child)
	}
	r.logger.Debug(r, " spawned ", child.Base(), " for ", s)
	return nil
}

// SignalRemoved marks child of audio signal done.
func (r *Recycling) SignalRemoved(s *audio.Signal) error {
	if _, ok := r.accepts(s); !ok {
		return nil
	}
	if !r.Scopes().Has(s.RecallID().Scope()) {
		return nil
	}

	r.ioMu.Lock()
	v, ok := r.live[s]
	if !ok || v.child == nil {
		// pending reservation is superseded, its child is marked done
		// when built.
		delete(r.live, s)
		r.removeChildSource(s)
		r.ioMu.Unlock()
		return nil
	}
	r.ioMu.Unlock()

	// persistent child keeps its slot, so the signal can't get another one.
	if !r.reg.Done(v.child) && !v.child.Base().IsDone() {
		r.logger.Debug(r, " keeps persistent ", v.child.Base(), " for ", s)
		return nil
	}
	r.ioMu.Lock()
	if cur, ok := r.live[s]; ok && cur.ticket == v.ticket {
		delete(r.live, s)
		r.removeChildSource(s)
	}
	r.ioMu.Unlock()
	r.logger.Debug(r, " retired ", v.child.Base(), " for ", s)
	return nil
}

// removeChildSource must be called with ioMu held.
func (r *Recycling) removeChildSource(s *audio.Signal) {
	for i, v := range r.childSource {
		if v == s {
			r.childSource = append(r.childSource[:i], r.childSource[i+1:]...)
			return
		}
	}
}

// AddChild attaches child built elsewhere for audio signal. Attaching a
// child for signal which already has a live one causes a panic.
func (r *Recycling) AddChild(s *audio.Signal, child Unit) {
	if r.HasFlags(Template) {
		panic(ErrTemplateSpawn)
	}
	r.ioMu.Lock()
	if v, ok := r.live[s]; ok && (v.child == nil || !v.child.Base().IsDone()) {
		r.ioMu.Unlock()
		panic(ErrDuplicateChild)
	}
	r.tickets++
	r.live[s] = slot{child: child, ticket: r.tickets}
	if r.mapChildSource && !containsSignal(r.childSource, s) {
		r.childSource = append(r.childSource, s)
	}
	r.ioMu.Unlock()

	r.reg.attach(r, child, r.own)
	r.own.Spawned()
}

// accepts applies identity checks common for adding and removing.
func (r *Recycling) accepts(s *audio.Signal) (string, bool) {
	if s.IsTemplate() || s.IsRTTemplate() {
		return metric.ReasonTemplate, false
	}
	own := r.RecallID()
	if own == nil {
		return metric.ReasonNoRecallID, false
	}
	sid := s.RecallID()
	if sid == nil {
		return metric.ReasonSignalNoRecallID, false
	}
	if ctx := sid.Context(); ctx != own.Context() && r.reg.tree.Parent(ctx) != own.Context() {
		return metric.ReasonContextMismatch, false
	}
	return "", true
}

func (r *Recycling) childDisposed(u Unit) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	for s, v := range r.live {
		if v.child == u {
			delete(r.live, s)
			return
		}
	}
}

// Duplicate returns a new recycling bound to provided id. Everything but
// template flag is copied.
func (r *Recycling) Duplicate(id *identity.RecallID) Unit {
	r.ioMu.Lock()
	options := []Option{
		WithAudioChannel(r.audioChannel),
		WithSource(r.source),
		WithDestination(r.destination),
		WithChildDestination(r.childDestination),
		WithMapChildSource(r.mapChildSource),
	}
	if r.target != nil {
		options = append(options, WithTarget(r.target))
	}
	r.ioMu.Unlock()
	options = append(options,
		WithFlags(r.Flags()&^Template),
		WithScopes(r.Scopes()),
		WithChildFactory(r.factory),
		WithLogger(r.logger),
	)
	return NewRecycling(r.reg, r.kind, id, options...)
}

// Run runs every running child once. False is returned if no child ran.
// Failed children don't stop the others, errors are returned together.
func (r *Recycling) Run() (bool, error) {
	ran := false
	var errs runErrors
	for _, child := range r.Children() {
		c, ok := child.(runner)
		if !ok || child.Base().IsDone() {
			continue
		}
		more, err := c.Run()
		if err != nil {
			errs = append(errs, fmt.Errorf("error running %s: %w", child.Base(), err))
			continue
		}
		ran = ran || more
	}
	return ran, errs.ret()
}

// AudioChannel returns audio channel index.
func (r *Recycling) AudioChannel() int {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.audioChannel
}

// Source returns source recycling.
func (r *Recycling) Source() *audio.Recycling {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.source
}

// SetSource replaces source. Connected recycling moves its subscription
// to the new source.
func (r *Recycling) SetSource(s *audio.Recycling) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	r.ioMu.Lock()
	r.source = s
	r.ioMu.Unlock()
	if r.subscribed == nil || r.subscribed == s {
		return
	}
	r.subscribed.Unsubscribe(r.sub)
	r.subscribed = nil
	if s != nil {
		r.sub = s.Subscribe(r)
		r.subscribed = s
	}
}

// Destination returns destination recycling.
func (r *Recycling) Destination() *audio.Recycling {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.destination
}

// SetDestination replaces destination recycling.
func (r *Recycling) SetDestination(d *audio.Recycling) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	r.destination = d
}

// ChildDestination returns signal which new children write into.
func (r *Recycling) ChildDestination() *audio.Signal {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.childDestination
}

// SetChildDestination replaces signal which new children write into.
func (r *Recycling) SetChildDestination(s *audio.Signal) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	r.childDestination = s
}

// Target returns destination channel.
func (r *Recycling) Target() Target {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	return r.target
}

// SetTarget replaces destination channel.
func (r *Recycling) SetTarget(t Target) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	r.target = t
}

// ChildSource returns a copy of adopted signals.
func (r *Recycling) ChildSource() []*audio.Signal {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	if len(r.childSource) == 0 {
		return nil
	}
	signals := make([]*audio.Signal, len(r.childSource))
	copy(signals, r.childSource)
	return signals
}

// LiveChildren returns number of children which aren't done.
func (r *Recycling) LiveChildren() int {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	n := 0
	for _, v := range r.live {
		if v.child != nil && !v.child.Base().IsDone() {
			n++
		}
	}
	return n
}

// Child returns live child of audio signal.
func (r *Recycling) Child(s *audio.Signal) (Unit, bool) {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()
	child := r.live[s].child
	if child == nil || child.Base().IsDone() {
		return nil, false
	}
	return child, true
}

func containsSignal(signals []*audio.Signal, s *audio.Signal) bool {
	for _, v := range signals {
		if v == s {
			return true
		}
	}
	return false
}

// runErrors wraps errors of multiple children.
type runErrors []error

func (e runErrors) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return strings.Join(s, ",")
}

func (e runErrors) Unwrap() []error {
	return e
}

func (e runErrors) ret() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
