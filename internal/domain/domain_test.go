package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(NewSessionParams{Title: "Tavern", ParticipantIDs: []string{"c1", "c2"}})
	require.NoError(t, err)
	return s
}

// --- Session creation tests ---

func TestNewSession(t *testing.T) {
	s := newTestSession(t)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, SchemaVersion, s.SchemaVersion)
	assert.Equal(t, ModeParty, s.Mode)
	require.Len(t, s.Nodes, 1)
	assert.Equal(t, DefaultNodeTitle, s.Nodes[0].Title)
	assert.Equal(t, s.Nodes[0].ID, s.ActiveNodeID)
	assert.NoError(t, s.CheckInvariants())
}

func TestNewSession_Validation(t *testing.T) {
	tests := []struct {
		name  string
		p     NewSessionParams
		field string
	}{
		{"blank title", NewSessionParams{Title: "   "}, "title"},
		{"unknown mode", NewSessionParams{Title: "x", Mode: "chess"}, "mode"},
		{"too many participants", NewSessionParams{Title: "x", ParticipantIDs: []string{"1", "2", "3", "4", "5", "6"}}, "participantIds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.p)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

// --- Node operation tests ---

func TestCreateNode_BecomesActive(t *testing.T) {
	s := newTestSession(t)
	n, err := s.CreateNode("  Side quest ")
	require.NoError(t, err)

	assert.Equal(t, "Side quest", n.Title)
	assert.Equal(t, n.ID, s.ActiveNodeID)
	assert.Len(t, s.Nodes, 2)
	assert.Empty(t, n.Messages)
}

func TestCreateNode_BlankTitle(t *testing.T) {
	s := newTestSession(t)
	_, err := s.CreateNode(" ")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Len(t, s.Nodes, 1)
}

func TestSwitchActive(t *testing.T) {
	s := newTestSession(t)
	first := s.ActiveNodeID
	_, err := s.CreateNode("second")
	require.NoError(t, err)

	require.NoError(t, s.SwitchActive(first))
	assert.Equal(t, first, s.ActiveNodeID)

	err = s.SwitchActive("missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "node", nf.Kind)
	assert.Equal(t, first, s.ActiveNodeID)
}

func TestDeleteNode_LastNode(t *testing.T) {
	s := newTestSession(t)
	err := s.DeleteNode(s.ActiveNodeID)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Len(t, s.Nodes, 1)
}

func TestDeleteNode_ActiveFallsBackToFirst(t *testing.T) {
	s := newTestSession(t)
	first := s.Nodes[0].ID
	second, err := s.CreateNode("second")
	require.NoError(t, err)
	_, err = s.CreateNode("third")
	require.NoError(t, err)
	require.NoError(t, s.SwitchActive(second.ID))

	require.NoError(t, s.DeleteNode(second.ID))
	assert.Equal(t, first, s.ActiveNodeID)
	assert.Len(t, s.Nodes, 2)
	assert.NoError(t, s.CheckInvariants())
}

func TestDeleteNode_InactiveKeepsActive(t *testing.T) {
	s := newTestSession(t)
	first := s.Nodes[0].ID
	second, err := s.CreateNode("second")
	require.NoError(t, err)

	require.NoError(t, s.DeleteNode(first))
	assert.Equal(t, second.ID, s.ActiveNodeID)
}

func TestDeleteNode_NotFound(t *testing.T) {
	s := newTestSession(t)
	_, err := s.CreateNode("second")
	require.NoError(t, err)

	var nf *NotFoundError
	assert.ErrorAs(t, s.DeleteNode("nope"), &nf)
}

func TestDeleteNode_UnknownOnSingleNode(t *testing.T) {
	s := newTestSession(t)

	var nf *NotFoundError
	require.ErrorAs(t, s.DeleteNode("nope"), &nf)
	assert.Equal(t, "nope", nf.ID)
	assert.Len(t, s.Nodes, 1)
}

func TestRenameNode(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.RenameNode(s.ActiveNodeID, "Prologue"))
	n, err := s.ActiveNode()
	require.NoError(t, err)
	assert.Equal(t, "Prologue", n.Title)

	var ve *ValidationError
	assert.ErrorAs(t, s.RenameNode(s.ActiveNodeID, ""), &ve)
}

func TestAppendMessage(t *testing.T) {
	NowMillis = func() int64 { return 42 }
	t.Cleanup(func() { NowMillis = defaultNowMillis })

	s := newTestSession(t)
	require.NoError(t, s.AppendMessage(s.ActiveNodeID, Message{Role: RoleUser, Content: "Hello"}))

	n, _ := s.ActiveNode()
	require.Len(t, n.Messages, 1)
	assert.NotEmpty(t, n.Messages[0].ID)
	assert.Equal(t, int64(42), n.Messages[0].Timestamp)
	assert.Equal(t, int64(42), n.UpdatedAt)
	assert.Equal(t, int64(42), s.UpdatedAt)

	var ve *ValidationError
	assert.ErrorAs(t, s.AppendMessage(s.ActiveNodeID, Message{Role: "tool"}), &ve)

	var nf *NotFoundError
	assert.ErrorAs(t, s.AppendMessage("missing", Message{Role: RoleUser}), &nf)
}

var defaultNowMillis = NowMillis

// --- Relationship tests ---

func TestRelationshipKey_Symmetric(t *testing.T) {
	assert.Equal(t, RelationshipKey("a", "b"), RelationshipKey("b", "a"))
	assert.Equal(t, "a_b", RelationshipKey("b", "a"))
}

func TestRelationship_EitherOrder(t *testing.T) {
	s := newTestSession(t)
	s.RelationshipMap["c2_c1"] = "rivals"

	v, ok := s.Relationship("c1", "c2")
	require.True(t, ok)
	assert.Equal(t, "rivals", v)

	require.NoError(t, s.SetRelationship("c1", "c2", "allies"))
	assert.Equal(t, map[string]string{"c1_c2": "allies"}, s.RelationshipMap)

	require.NoError(t, s.SetRelationship("c2", "c1", ""))
	assert.Empty(t, s.RelationshipMap)

	assert.Error(t, s.SetRelationship("c1", "c1", "self"))
}

// --- Invariant and schema tests ---

func TestCheckInvariants(t *testing.T) {
	s := newTestSession(t)
	s.ActiveNodeID = "gone"
	var ie *InvariantError
	assert.ErrorAs(t, s.CheckInvariants(), &ie)

	s = newTestSession(t)
	s.Nodes = append(s.Nodes, s.Nodes[0])
	assert.ErrorAs(t, s.CheckInvariants(), &ie)
}

func TestUpgrade_LegacyDocument(t *testing.T) {
	doc := `{"id":"s1","title":"old","nodes":[{"id":"n1","title":"Chapter 1"}]}`
	var s Session
	require.NoError(t, json.Unmarshal([]byte(doc), &s))

	s.Upgrade()
	assert.Equal(t, SchemaVersion, s.SchemaVersion)
	assert.Equal(t, ModeParty, s.Mode)
	assert.Equal(t, "n1", s.ActiveNodeID)
	assert.NotNil(t, s.Nodes[0].Messages)
	assert.NoError(t, s.CheckInvariants())
}

func TestClone_Independent(t *testing.T) {
	s := newTestSession(t)
	c := s.Clone()
	require.NoError(t, c.AppendMessage(c.ActiveNodeID, Message{Role: RoleUser, Content: "x"}))
	c.RelationshipMap["a_b"] = "x"

	n, _ := s.ActiveNode()
	assert.Empty(t, n.Messages)
	assert.Empty(t, s.RelationshipMap)
}

// --- Character tests ---

func TestCharacter_DisplayName(t *testing.T) {
	assert.Equal(t, "Mira", Character{ID: "c1", Name: " Mira "}.DisplayName())
	assert.Equal(t, "c1", Character{ID: "c1"}.DisplayName())
}

func TestFindCharacter(t *testing.T) {
	chars := []Character{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	c, ok := FindCharacter(chars, "b")
	assert.True(t, ok)
	assert.Equal(t, "B", c.Name)
	_, ok = FindCharacter(chars, "z")
	assert.False(t, ok)
}
