package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fluxion/voice-agent/internal/domain"
)

// PutSession upserts the remote copy of a session.
func (c *Client) PutSession(ctx context.Context, s *domain.Session) error {
	if err := c.doJSON(ctx, "voice_sessions_put", http.MethodPost, "/api/voice/sessions", s, nil); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches the remote copy of a session. A missing session
// returns ErrNotFound.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var out struct {
		Session *domain.Session `json:"session"`
	}
	err := c.doJSON(ctx, "voice_sessions_get", http.MethodGet, "/api/voice/sessions/"+url.PathEscape(id), nil, &out)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get session: %w", err)
	case out.Session == nil:
		return nil, ErrNotFound
	}
	return out.Session, nil
}
