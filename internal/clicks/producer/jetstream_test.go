package producer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/linkmesh/engine/pkg/types"
)

func TestSubjectPartitionAffinity(t *testing.T) {
	sink := NewJetStreamSink(nil, 16, zap.NewNop())

	a := sink.Subject(&types.ClickEvent{TenantID: 3, LinkID: 42})
	b := sink.Subject(&types.ClickEvent{TenantID: 3, LinkID: 42})
	assert.Equal(t, a, b, "same link always maps to the same subject")
	assert.Equal(t, "clicks.3.10", a)

	other := sink.Subject(&types.ClickEvent{TenantID: 3, LinkID: 43})
	assert.NotEqual(t, a, other)
}

func TestSubjectDefaultPartitions(t *testing.T) {
	sink := NewJetStreamSink(nil, 0, zap.NewNop())
	assert.Equal(t, "clicks.1.7", sink.Subject(&types.ClickEvent{TenantID: 1, LinkID: 7}))
}
