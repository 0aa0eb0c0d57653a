// Package monitoring declares the monitoring-domain events relay carries
// between a monitoring engine and its consumers.
package monitoring

import (
	"github.com/cuemby/relay/pkg/events"
)

// Elements of the neb category
const (
	ElementAcknowledgement uint16 = 1
	ElementDowntime        uint16 = 5
	ElementHostStatus      uint16 = 14
	ElementLogEntry        uint16 = 17
	ElementServiceStatus   uint16 = 24
)

// Elements of the storage category
const (
	ElementMetric uint16 = 1
)

// HostStatus is the current state of a monitored host
type HostStatus struct {
	events.Header `cbor:"-"`
	HostID        uint64  `cbor:"1,keyasint"`
	State         int16   `cbor:"2,keyasint"`
	StateType     int16   `cbor:"3,keyasint"`
	Output        string  `cbor:"4,keyasint,omitempty"`
	PerfData      string  `cbor:"5,keyasint,omitempty"`
	LastCheck     int64   `cbor:"6,keyasint"`
	Latency       float64 `cbor:"7,keyasint"`
	Acknowledged  bool    `cbor:"8,keyasint"`
}

// Type implements events.Event
func (h *HostStatus) Type() events.Type {
	return events.NewType(events.CategoryNeb, ElementHostStatus)
}

// ServiceStatus is the current state of a monitored service
type ServiceStatus struct {
	events.Header `cbor:"-"`
	HostID        uint64  `cbor:"1,keyasint"`
	ServiceID     uint64  `cbor:"2,keyasint"`
	State         int16   `cbor:"3,keyasint"`
	StateType     int16   `cbor:"4,keyasint"`
	Output        string  `cbor:"5,keyasint,omitempty"`
	PerfData      string  `cbor:"6,keyasint,omitempty"`
	LastCheck     int64   `cbor:"7,keyasint"`
	Latency       float64 `cbor:"8,keyasint"`
	Acknowledged  bool    `cbor:"9,keyasint"`
}

// Type implements events.Event
func (s *ServiceStatus) Type() events.Type {
	return events.NewType(events.CategoryNeb, ElementServiceStatus)
}

// Acknowledgement records that an operator acknowledged a problem
type Acknowledgement struct {
	events.Header     `cbor:"-"`
	HostID            uint64 `cbor:"1,keyasint"`
	ServiceID         uint64 `cbor:"2,keyasint,omitempty"`
	Author            string `cbor:"3,keyasint"`
	Comment           string `cbor:"4,keyasint,omitempty"`
	EntryTime         int64  `cbor:"5,keyasint"`
	Sticky            bool   `cbor:"6,keyasint"`
	NotifyContacts    bool   `cbor:"7,keyasint"`
	PersistentComment bool   `cbor:"8,keyasint"`
}

// Type implements events.Event
func (a *Acknowledgement) Type() events.Type {
	return events.NewType(events.CategoryNeb, ElementAcknowledgement)
}

// Downtime is a scheduled maintenance window on a host or service
type Downtime struct {
	events.Header `cbor:"-"`
	InternalID    uint64 `cbor:"1,keyasint"`
	HostID        uint64 `cbor:"2,keyasint"`
	ServiceID     uint64 `cbor:"3,keyasint,omitempty"`
	Author        string `cbor:"4,keyasint"`
	Comment       string `cbor:"5,keyasint,omitempty"`
	StartTime     int64  `cbor:"6,keyasint"`
	EndTime       int64  `cbor:"7,keyasint"`
	Fixed         bool   `cbor:"8,keyasint"`
	Cancelled     bool   `cbor:"9,keyasint"`
}

// Type implements events.Event
func (d *Downtime) Type() events.Type {
	return events.NewType(events.CategoryNeb, ElementDowntime)
}

// LogEntry is one line of the monitoring engine's log
type LogEntry struct {
	events.Header `cbor:"-"`
	CTime         int64  `cbor:"1,keyasint"`
	HostName      string `cbor:"2,keyasint,omitempty"`
	ServiceName   string `cbor:"3,keyasint,omitempty"`
	MsgType       int16  `cbor:"4,keyasint"`
	Output        string `cbor:"5,keyasint"`
}

// Type implements events.Event
func (l *LogEntry) Type() events.Type {
	return events.NewType(events.CategoryNeb, ElementLogEntry)
}

// Metric is a single perfdata sample derived from a check result
type Metric struct {
	events.Header `cbor:"-"`
	MetricID      uint64  `cbor:"1,keyasint"`
	Name          string  `cbor:"2,keyasint"`
	CTime         int64   `cbor:"3,keyasint"`
	Value         float64 `cbor:"4,keyasint"`
	Interval      uint32  `cbor:"5,keyasint"`
}

// Type implements events.Event
func (m *Metric) Type() events.Type {
	return events.NewType(events.CategoryStorage, ElementMetric)
}

// Register adds the monitoring events to a catalog
func Register(cat *events.Catalog) error {
	entries := []struct {
		t    events.Type
		info events.Info
	}{
		{(&Acknowledgement{}).Type(), events.CBORInfo[Acknowledgement]("acknowledgement")},
		{(&Downtime{}).Type(), events.CBORInfo[Downtime]("downtime")},
		{(&HostStatus{}).Type(), events.CBORInfo[HostStatus]("host_status")},
		{(&LogEntry{}).Type(), events.CBORInfo[LogEntry]("log_entry")},
		{(&ServiceStatus{}).Type(), events.CBORInfo[ServiceStatus]("service_status")},
		{(&Metric{}).Type(), events.CBORInfo[Metric]("metric")},
	}

	for _, e := range entries {
		if err := cat.Register(e.t, e.info); err != nil {
			return err
		}
	}
	return nil
}
