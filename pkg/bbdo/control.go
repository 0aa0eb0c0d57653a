package bbdo

import (
	"fmt"

	"github.com/cuemby/relay/pkg/events"
)

// Protocol version spoken by this implementation
const (
	ProtocolMajor uint16 = 3
	ProtocolMinor uint16 = 0
	ProtocolPatch uint16 = 0
)

// Control event types of the bbdo category
var (
	TypeVersionResponse = events.NewType(events.CategoryBBDO, 1)
	TypeAck             = events.NewType(events.CategoryBBDO, 2)
)

// VersionResponse is exchanged by both peers before streaming starts
type VersionResponse struct {
	events.Header `cbor:"-"`
	Major         uint16   `cbor:"1,keyasint"`
	Minor         uint16   `cbor:"2,keyasint"`
	Patch         uint16   `cbor:"3,keyasint"`
	Extensions    []string `cbor:"4,keyasint,omitempty"`
}

// Type implements events.Event
func (v *VersionResponse) Type() events.Type { return TypeVersionResponse }

func (v *VersionResponse) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Ack tells the peer how many events were processed since the last Ack
type Ack struct {
	events.Header `cbor:"-"`
	Count         uint32 `cbor:"1,keyasint"`
}

// Type implements events.Event
func (a *Ack) Type() events.Type { return TypeAck }

// Register adds the control events to c
func Register(c *events.Catalog) error {
	if err := c.Register(TypeVersionResponse, events.CBORInfo[VersionResponse]("version_response")); err != nil {
		return err
	}
	return c.Register(TypeAck, events.CBORInfo[Ack]("ack"))
}

// IsControl reports whether t is a protocol control event
func IsControl(t events.Type) bool {
	return t.Category() == events.CategoryBBDO
}
