package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/pkg/core"
)

// Resolver maps marker IDs to remote token identities, creating tokens in
// the scene when no match exists. Resolutions are cached for the life of
// the resolver; a failed attempt is not cached and retries on the next
// sighting.
type Resolver struct {
	client  *Client
	markers config.MarkerConfig
	sceneID string
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[int]string // marker ID -> remote token ID
}

// NewResolver creates a resolver for one scene.
func NewResolver(client *Client, markers config.MarkerConfig, sceneID string, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:  client,
		markers: markers,
		sceneID: sceneID,
		logger:  logger,
		cache:   make(map[int]string),
	}
}

// Resolve returns the remote token ID for a marker, finding an existing
// scene token or creating one. The mutex is held across the network calls
// so concurrent resolutions of the same marker cannot double-create.
func (r *Resolver) Resolve(ctx context.Context, tok core.Token, x, y int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.cache[tok.MarkerID]; ok {
		return id, nil
	}

	name := TokenName(r.markers, tok.MarkerID)

	tokens, err := r.client.ListTokens(ctx, r.sceneID)
	if err != nil {
		return "", fmt.Errorf("failed to list scene tokens: %w", err)
	}

	// Match on the tracker-owned flag first; name matching picks up
	// tokens placed by hand before tracking started.
	for _, rt := range tokens {
		if rt.Flags.MarkerID == tok.MarkerID || rt.Name == name {
			r.cache[tok.MarkerID] = rt.ID
			r.logger.Debug("Matched existing remote token",
				"markerId", tok.MarkerID, "tokenId", rt.ID, "name", rt.Name)
			return rt.ID, nil
		}
	}

	created, err := r.client.CreateToken(ctx, r.sceneID, CreateTokenRequest{
		Name: name,
		X:    x,
		Y:    y,
		Flags: TokenFlags{
			MarkerID: tok.MarkerID,
			Category: string(r.markers.Categorize(tok.MarkerID)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create remote token: %w", err)
	}

	r.cache[tok.MarkerID] = created.ID
	r.logger.Info("Created remote token",
		"markerId", tok.MarkerID, "tokenId", created.ID, "name", name)
	return created.ID, nil
}

// Forget drops a cached resolution, forcing a fresh lookup next time.
func (r *Resolver) Forget(markerID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, markerID)
}

// Resolved returns the number of cached identities.
func (r *Resolver) Resolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
