package events

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Info describes how to build and (de)serialize one event type
type Info struct {
	Name   string
	New    func() Event
	Encode func(Event) ([]byte, error)
	Decode func([]byte) (Event, error)
}

// Catalog maps type codes to their Info. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	types map[Type]Info
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so newer producers can add fields
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewCatalog creates a catalog with the internal events registered
func NewCatalog() *Catalog {
	c := &Catalog{types: make(map[Type]Info)}
	c.MustRegister(NewType(CategoryInternal, ElementRaw), Info{
		Name: "raw",
		New:  func() Event { return &Raw{} },
		Encode: func(e Event) ([]byte, error) {
			r, ok := e.(*Raw)
			if !ok {
				return nil, fmt.Errorf("raw: unexpected event %T", e)
			}
			return r.Data, nil
		},
		Decode: func(b []byte) (Event, error) {
			return NewRaw(b), nil
		},
	})
	c.MustRegister(NewType(CategoryInternal, ElementInstanceBroadcast),
		CBORInfo[InstanceBroadcast]("instance_broadcast"))
	return c
}

// Register adds a type to the catalog
func (c *Catalog) Register(t Type, info Info) error {
	if info.New == nil || info.Encode == nil || info.Decode == nil {
		return fmt.Errorf("event type %s: incomplete info", t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.types[t]; ok {
		return fmt.Errorf("event type %s already registered as %q", t, existing.Name)
	}
	c.types[t] = info
	return nil
}

// MustRegister is like Register but panics on error
func (c *Catalog) MustRegister(t Type, info Info) {
	if err := c.Register(t, info); err != nil {
		panic(err)
	}
}

// Lookup returns the Info registered for t
func (c *Catalog) Lookup(t Type) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.types[t]
	return info, ok
}

// Name returns the human-readable name of t, or its numeric form
func (c *Catalog) Name(t Type) string {
	if info, ok := c.Lookup(t); ok {
		return info.Name
	}
	return t.String()
}

// New constructs an empty event of type t
func (c *Catalog) New(t Type) (Event, error) {
	info, ok := c.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	return info.New(), nil
}

// Encode serializes the body of e
func (c *Catalog) Encode(e Event) ([]byte, error) {
	info, ok := c.Lookup(e.Type())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type())
	}
	body, err := info.Encode(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", info.Name, err)
	}
	return body, nil
}

// Decode builds an event of type t from its serialized body
func (c *Catalog) Decode(t Type, body []byte) (Event, error) {
	info, ok := c.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, t)
	}
	e, err := info.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", info.Name, err)
	}
	return e, nil
}

// Types lists the registered type codes in ascending order
func (c *Catalog) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]Type, 0, len(c.types))
	for t := range c.types {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CBORInfo builds an Info whose body is the CBOR encoding of T
func CBORInfo[T any, P interface {
	*T
	Event
}](name string) Info {
	return Info{
		Name: name,
		New:  func() Event { return P(new(T)) },
		Encode: func(e Event) ([]byte, error) {
			return encMode.Marshal(e)
		},
		Decode: func(b []byte) (Event, error) {
			p := P(new(T))
			if err := decMode.Unmarshal(b, p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
}
