package store

import (
	"encoding/json"
	"fmt"

	"github.com/soyeahso/oracle/internal/domain"
)

// encodeSession renders the versioned JSON document used by the key-value
// backends.
func encodeSession(s *domain.Session) ([]byte, error) {
	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}
	doc := *s
	doc.SchemaVersion = domain.SchemaVersion
	return json.Marshal(&doc)
}

// decodeSession parses a stored document, upgrading older schema versions.
func decodeSession(data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.SchemaVersion > domain.SchemaVersion {
		return nil, fmt.Errorf("session %s has schema version %d, newer than supported %d",
			s.ID, s.SchemaVersion, domain.SchemaVersion)
	}
	s.Upgrade()
	if err := s.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return &s, nil
}
