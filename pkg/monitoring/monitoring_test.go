package monitoring

import (
	"testing"

	"github.com/cuemby/relay/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	cat := events.NewCatalog()
	require.NoError(t, Register(cat))

	assert.Equal(t, "host_status", cat.Name(events.NewType(events.CategoryNeb, ElementHostStatus)))
	assert.Equal(t, "service_status", cat.Name(events.NewType(events.CategoryNeb, ElementServiceStatus)))
	assert.Equal(t, "metric", cat.Name(events.NewType(events.CategoryStorage, ElementMetric)))
	assert.Len(t, cat.Types(), 8)

	assert.Error(t, Register(cat), "registering twice")
}

func TestBodyOmitsRoute(t *testing.T) {
	cat := events.NewCatalog()
	require.NoError(t, Register(cat))

	status := &ServiceStatus{HostID: 1, ServiceID: 2, State: 2, Output: "CRITICAL"}
	status.SourceID = 99

	body, err := cat.Encode(status)
	require.NoError(t, err)

	decoded, err := cat.Decode(status.Type(), body)
	require.NoError(t, err)

	got := decoded.(*ServiceStatus)
	assert.Zero(t, got.SourceID, "routing lives in the frame header")
	got.SourceID = 99
	assert.Equal(t, status, got)
}
