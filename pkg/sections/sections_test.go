package sections

import (
	"testing"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func m(id string, role conversation.Role) *conversation.Message {
	return conversation.NewMessage(role, []conversation.Part{conversation.NewTextPart(id)}, conversation.WithID(id))
}

func assistantIDs(s Section) []string {
	var out []string
	for _, a := range s.Assistants {
		out = append(out, a.ID)
	}
	return out
}

func TestBuildSectionsEmpty(t *testing.T) {
	assert.Empty(t, BuildSections(nil))
	assert.Empty(t, BuildSections([]*conversation.Message{}))
}

func TestBuildSectionsGroupsAssistantsUnderPrecedingUser(t *testing.T) {
	log := []*conversation.Message{
		m("s0", conversation.RoleSystem),
		m("a0", conversation.RoleAssistant),
		m("u1", conversation.RoleUser),
		m("a1", conversation.RoleAssistant),
		m("a1b", conversation.RoleAssistant),
		m("s1", conversation.RoleSystem),
		m("u2", conversation.RoleUser),
		m("u3", conversation.RoleUser),
		m("a3", conversation.RoleAssistant),
	}

	got := BuildSections(log)
	require.Len(t, got, 3)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, []string{"a1", "a1b"}, assistantIDs(got[0]))
	assert.Equal(t, "u2", got[1].ID)
	assert.Empty(t, got[1].Assistants)
	assert.Equal(t, "u3", got[2].ID)
	assert.Equal(t, []string{"a3"}, assistantIDs(got[2]))
}

func TestBuildSectionsPartitionProperty(t *testing.T) {
	log := []*conversation.Message{
		m("a0", conversation.RoleAssistant),
		m("u1", conversation.RoleUser),
		m("a1", conversation.RoleAssistant),
		m("s1", conversation.RoleSystem),
		m("a2", conversation.RoleAssistant),
		m("u2", conversation.RoleUser),
		m("a3", conversation.RoleAssistant),
	}
	got := BuildSections(log)

	seen := map[string]int{}
	for _, s := range got {
		seen[s.User.ID]++
		for _, a := range s.Assistants {
			seen[a.ID]++
		}
	}
	// every user and every assistant after the first user appears exactly once
	assert.Equal(t, map[string]int{"u1": 1, "a1": 1, "a2": 1, "u2": 1, "a3": 1}, seen)
}

func TestBuildSectionsIsDeterministic(t *testing.T) {
	log := []*conversation.Message{
		m("u1", conversation.RoleUser),
		m("a1", conversation.RoleAssistant),
		m("u2", conversation.RoleUser),
	}
	first := BuildSections(log)
	second := BuildSections(log)
	assert.Equal(t, first, second)
	require.Len(t, log, 3)
	assert.Equal(t, "u1", log[0].ID)
}

func TestFind(t *testing.T) {
	got := BuildSections([]*conversation.Message{
		m("u1", conversation.RoleUser),
		m("a1", conversation.RoleAssistant),
	})
	s, ok := Find(got, "a1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.ID)

	_, ok = Find(got, "zzz")
	assert.False(t, ok)
}
