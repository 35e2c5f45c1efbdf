package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_CloseWithoutTraffic(t *testing.T) {
	// Close must be safe before any message was published; shutdown
	// always runs it.
	p := NewPublisher([]string{"localhost:9092"}, "donor-audit")

	assert.Equal(t, "donor-audit", p.writer.Topic)
	require.NoError(t, p.Close())
}
