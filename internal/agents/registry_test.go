package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenclass/agentrun/pkg/schema"
)

func TestRegistry_ResolveAndAll(t *testing.T) {
	pub := NewPublishingAgent()
	enr := newEnrollmentAgent(nil)

	reg, err := NewRegistry(enr, pub)
	require.NoError(t, err)

	got, err := reg.Resolve(schema.AgentTypeContentPublishing)
	require.NoError(t, err)
	assert.Same(t, pub, got)

	all := reg.All()
	require.Len(t, all, 2)
	// Sorted by type for stable discovery output.
	assert.Equal(t, schema.AgentTypeContentPublishing, all[0].Type())
	assert.Equal(t, schema.AgentTypeEnrollmentManagement, all[1].Type())
}

func TestRegistry_UnknownType(t *testing.T) {
	reg, err := NewRegistry(NewPublishingAgent())
	require.NoError(t, err)

	_, err = reg.Resolve(schema.AgentTypeEnrollmentManagement)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentNotRegistered, schema.CodeOf(err))
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewPublishingAgent(), NewPublishingAgent())
	require.Error(t, err)
}
