// Package property is the published property store. Internal updates go
// through Publish and never reach the write handler; external writes go
// through Write and are committed only when the handler accepts them.
package property

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Origin tells observers where a change came from
type Origin int

const (
	OriginInternal Origin = iota
	OriginExternal
)

func (o Origin) String() string {
	if o == OriginExternal {
		return "external"
	}
	return "internal"
}

// WriteHandler decides whether an external write is accepted
type WriteHandler func(ctx context.Context, name string, value float64) bool

// Change is delivered to observers after a value changes
type Change struct {
	Name   string
	Value  float64
	Text   string
	Origin Origin
}

// Observer receives committed changes
type Observer func(Change)

// Entry is a point-in-time view of one property
type Entry struct {
	Name     string      `json:"name"`
	Value    interface{} `json:"value"`
	Text     string      `json:"text"`
	Writable bool        `json:"writable"`
}

type prop struct {
	value    float64
	text     string
	isText   bool
	format   Formatter
	writable bool
}

func (p *prop) display() string {
	if p.isText {
		return p.text
	}
	if p.format == nil {
		return Plain(p.value)
	}
	return p.format(p.value)
}

// Store holds published properties
type Store struct {
	mu        sync.RWMutex
	props     map[string]*prop
	handler   WriteHandler
	observers map[int]Observer
	nextObs   int
	held      map[string]bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		props:     make(map[string]*prop),
		observers: make(map[int]Observer),
		held:      make(map[string]bool),
	}
}

// Register adds a numeric property
func (s *Store) Register(name string, initial float64, format Formatter, writable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.props[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.props[name] = &prop{value: initial, format: format, writable: writable}
	return nil
}

// RegisterAll registers every definition
func (s *Store) RegisterAll(defs []Definition) error {
	for _, d := range defs {
		if err := s.Register(d.Name, d.Initial, d.Format, d.Writable); err != nil {
			return err
		}
	}
	return nil
}

// RegisterText adds a read-only text property such as a serial number
func (s *Store) RegisterText(name, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.props[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.props[name] = &prop{text: text, isText: true}
	return nil
}

// OnWrite installs the handler consulted by Write
func (s *Store) OnWrite(h WriteHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Hold keeps the published value of name owned by the bridge. Writes the
// handler accepts while held are acknowledged but not committed.
func (s *Store) Hold(name string) {
	s.mu.Lock()
	s.held[name] = true
	s.mu.Unlock()
}

// Release ends a Hold
func (s *Store) Release(name string) {
	s.mu.Lock()
	delete(s.held, name)
	s.mu.Unlock()
}

// Subscribe registers an observer and returns a function that removes it
func (s *Store) Subscribe(o Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Get returns a numeric property value
func (s *Store) Get(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[name]
	if !ok || p.isText {
		return 0, false
	}
	return p.value, true
}

// Text returns the formatted value of a property
func (s *Store) Text(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[name]
	if !ok {
		return "", false
	}
	return p.display(), true
}

// Has reports whether name is registered
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.props[name]
	return ok
}

// Publish sets a value from inside the bridge. It never invokes the write
// handler. Observers are notified only when the value changed.
func (s *Store) Publish(name string, value float64) error {
	s.mu.Lock()
	p, ok := s.props[name]
	if !ok || p.isText {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	changed := p.value != value
	p.value = value
	change := Change{Name: name, Value: value, Text: p.display(), Origin: OriginInternal}
	observers := s.observersLocked()
	s.mu.Unlock()

	if changed {
		notify(observers, change)
	}
	return nil
}

// PublishText sets a text property from inside the bridge
func (s *Store) PublishText(name, text string) error {
	s.mu.Lock()
	p, ok := s.props[name]
	if !ok || !p.isText {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	changed := p.text != text
	p.text = text
	change := Change{Name: name, Text: text, Origin: OriginInternal}
	observers := s.observersLocked()
	s.mu.Unlock()

	if changed {
		notify(observers, change)
	}
	return nil
}

// Write applies an external write. The handler runs without the store
// lock held and the value is committed only if it returns true and name
// is not held.
func (s *Store) Write(ctx context.Context, name string, value float64) (bool, error) {
	s.mu.RLock()
	p, ok := s.props[name]
	if !ok {
		s.mu.RUnlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	if !p.writable || p.isText {
		s.mu.RUnlock()
		return false, fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	handler := s.handler
	s.mu.RUnlock()

	if handler == nil || !handler(ctx, name, value) {
		return false, nil
	}

	s.mu.Lock()
	if s.held[name] {
		s.mu.Unlock()
		return true, nil
	}
	changed := p.value != value
	p.value = value
	change := Change{Name: name, Value: value, Text: p.display(), Origin: OriginExternal}
	observers := s.observersLocked()
	s.mu.Unlock()

	if changed {
		notify(observers, change)
	}
	return true, nil
}

// Entries returns every property sorted by name
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.props))
	for name, p := range s.props {
		e := Entry{Name: name, Text: p.display(), Writable: p.writable}
		if p.isText {
			e.Value = p.text
		} else {
			e.Value = p.value
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Entry returns a single property view
func (s *Store) Entry(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[name]
	if !ok {
		return Entry{}, false
	}
	e := Entry{Name: name, Text: p.display(), Writable: p.writable}
	if p.isText {
		e.Value = p.text
	} else {
		e.Value = p.value
	}
	return e, true
}

func (s *Store) observersLocked() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for id := 0; id < s.nextObs; id++ {
		if o, ok := s.observers[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func notify(observers []Observer, c Change) {
	for _, o := range observers {
		o(c)
	}
}
