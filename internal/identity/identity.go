// Package identity manages the client-side viewer identifier. There is no
// account system in this client: an id is generated on first use, persisted
// for the session, and passed explicitly to everything that needs it instead
// of living in shared mutable state.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/indichess/indichess/internal/game"
)

// Session is the viewer's identity context, created once at startup and
// threaded through constructors.
type Session struct {
	ViewerID game.PlayerID
	path     string
}

// Load reads the persisted viewer id from path, generating and persisting a
// fresh one if absent.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return &Session{ViewerID: game.PlayerID(id), path: path}, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	return &Session{ViewerID: game.PlayerID(id), path: path}, nil
}

// Clear removes the persisted id (logout). The session object itself is no
// longer valid afterwards.
func (s *Session) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}
