package domain

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// SchemaVersion is written into every persisted session document.
const SchemaVersion = 1

// MaxParticipants caps the number of characters in one session.
const MaxParticipants = 5

// DefaultNodeTitle names the node every new session starts with.
const DefaultNodeTitle = "Chapter 1"

// Mode is the Embark Mode a session was created under.
type Mode string

const (
	ModeParty      Mode = "party"
	ModeHeartFire  Mode = "heartfire"
	ModeStoryScape Mode = "storyscape"
	ModeRpgWeave   Mode = "rpgweave"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeParty, ModeHeartFire, ModeStoryScape, ModeRpgWeave}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return slices.Contains(Modes, m)
}

// Node is one branch of a session's conversation.
type Node struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// Session is a roleplay session: a set of participants and one or more
// conversation nodes, exactly one of which is active.
type Session struct {
	SchemaVersion   int               `json:"schemaVersion"`
	ID              string            `json:"id"`
	Mode            Mode              `json:"mode"`
	Title           string            `json:"title"`
	ParticipantIDs  []string          `json:"participantIds"`
	Nodes           []*Node           `json:"nodes"`
	ActiveNodeID    string            `json:"activeNodeId"`
	RelationshipMap map[string]string `json:"relationshipMap,omitempty"`
	ModelID         string            `json:"modelId,omitempty"`
	Scenario        string            `json:"scenario,omitempty"`
	NarratorEnabled bool              `json:"narratorEnabled"`
	CreatedAt       int64             `json:"createdAt"`
	UpdatedAt       int64             `json:"updatedAt"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID        string `json:"id"`
	Mode      Mode   `json:"mode"`
	Title     string `json:"title"`
	Nodes     int    `json:"nodes"`
	UpdatedAt int64  `json:"updatedAt"`
}

// NewSessionParams holds the caller-supplied fields of a new session.
type NewSessionParams struct {
	Mode           Mode
	Title          string
	ParticipantIDs []string
	ModelID        string
	Scenario       string
}

// NewSession validates params and returns a session with a single active node.
func NewSession(p NewSessionParams) (*Session, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "must not be empty"}
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeParty
	}
	if !mode.Valid() {
		return nil, &ValidationError{Field: "mode", Message: "unknown mode " + string(mode)}
	}
	if len(p.ParticipantIDs) > MaxParticipants {
		return nil, &ValidationError{Field: "participantIds", Message: "at most 5 participants are allowed"}
	}

	now := NowMillis()
	node := newNode(DefaultNodeTitle, now)
	return &Session{
		SchemaVersion:   SchemaVersion,
		ID:              uuid.New().String(),
		Mode:            mode,
		Title:           title,
		ParticipantIDs:  slices.Clone(p.ParticipantIDs),
		Nodes:           []*Node{node},
		ActiveNodeID:    node.ID,
		RelationshipMap: map[string]string{},
		ModelID:         p.ModelID,
		Scenario:        p.Scenario,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func newNode(title string, now int64) *Node {
	return &Node{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Summary returns the list view of s.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		Mode:      s.Mode,
		Title:     s.Title,
		Nodes:     len(s.Nodes),
		UpdatedAt: s.UpdatedAt,
	}
}

// Node returns the node with the given id.
func (s *Session) Node(id string) (*Node, error) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, &NotFoundError{Kind: "node", ID: id}
}

// ActiveNode returns the currently active node.
func (s *Session) ActiveNode() (*Node, error) {
	return s.Node(s.ActiveNodeID)
}

// CreateNode appends an empty node and makes it active.
func (s *Session) CreateNode(title string) (*Node, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "must not be empty"}
	}
	now := NowMillis()
	n := newNode(title, now)
	s.Nodes = append(s.Nodes, n)
	s.ActiveNodeID = n.ID
	s.UpdatedAt = now
	return n, nil
}

// SwitchActive makes the node with the given id active.
func (s *Session) SwitchActive(id string) error {
	if _, err := s.Node(id); err != nil {
		return err
	}
	s.ActiveNodeID = id
	s.UpdatedAt = NowMillis()
	return nil
}

// RenameNode changes a node's title.
func (s *Session) RenameNode(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	n, err := s.Node(id)
	if err != nil {
		return err
	}
	now := NowMillis()
	n.Title = title
	n.UpdatedAt = now
	s.UpdatedAt = now
	return nil
}

// DeleteNode removes a node and its messages. The last node can never be
// deleted. When the active node is removed the first remaining node becomes
// active.
func (s *Session) DeleteNode(id string) error {
	idx := slices.IndexFunc(s.Nodes, func(n *Node) bool { return n.ID == id })
	if idx < 0 {
		return &NotFoundError{Kind: "node", ID: id}
	}
	if len(s.Nodes) == 1 {
		return &InvariantError{Message: "cannot delete the last node"}
	}
	s.Nodes = slices.Delete(s.Nodes, idx, idx+1)
	if s.ActiveNodeID == id {
		s.ActiveNodeID = s.Nodes[0].ID
	}
	s.UpdatedAt = NowMillis()
	return nil
}

// AppendMessage appends msg to the node with the given id.
func (s *Session) AppendMessage(nodeID string, msg Message) error {
	if !msg.Role.Valid() {
		return &ValidationError{Field: "role", Message: "unknown role " + string(msg.Role)}
	}
	n, err := s.Node(nodeID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := NowMillis()
	if msg.Timestamp == 0 {
		msg.Timestamp = now
	}
	n.Messages = append(n.Messages, msg)
	n.UpdatedAt = now
	s.UpdatedAt = now
	return nil
}

// SetModel records the model the session should use for future turns.
func (s *Session) SetModel(modelID string) {
	s.ModelID = strings.TrimSpace(modelID)
	s.UpdatedAt = NowMillis()
}

// SetScenario replaces the scenario text.
func (s *Session) SetScenario(scenario string) {
	s.Scenario = scenario
	s.UpdatedAt = NowMillis()
}

// SetNarrator toggles the narrator.
func (s *Session) SetNarrator(enabled bool) {
	s.NarratorEnabled = enabled
	s.UpdatedAt = NowMillis()
}

// CheckInvariants reports the first structural problem with s, or nil.
func (s *Session) CheckInvariants() error {
	if len(s.Nodes) == 0 {
		return &InvariantError{Message: "session has no nodes"}
	}
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if seen[n.ID] {
			return &InvariantError{Message: "duplicate node id " + n.ID}
		}
		seen[n.ID] = true
	}
	if !seen[s.ActiveNodeID] {
		return &InvariantError{Message: "active node " + s.ActiveNodeID + " does not exist"}
	}
	return nil
}

// Upgrade brings a decoded document to the current schema version.
func (s *Session) Upgrade() {
	if s.SchemaVersion >= SchemaVersion {
		return
	}
	if s.Mode == "" {
		s.Mode = ModeParty
	}
	if s.RelationshipMap == nil {
		s.RelationshipMap = map[string]string{}
	}
	if s.ActiveNodeID == "" && len(s.Nodes) > 0 {
		s.ActiveNodeID = s.Nodes[0].ID
	}
	for _, n := range s.Nodes {
		if n.Messages == nil {
			n.Messages = []Message{}
		}
	}
	s.SchemaVersion = SchemaVersion
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.ParticipantIDs = slices.Clone(s.ParticipantIDs)
	c.Nodes = make([]*Node, len(s.Nodes))
	for i, n := range s.Nodes {
		nc := *n
		nc.Messages = slices.Clone(n.Messages)
		c.Nodes[i] = &nc
	}
	if s.RelationshipMap != nil {
		c.RelationshipMap = make(map[string]string, len(s.RelationshipMap))
		for k, v := range s.RelationshipMap {
			c.RelationshipMap[k] = v
		}
	}
	return &c
}
