package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/pkg/core"
)

var testMarkers = config.MarkerConfig{
	CornerIDs:   [4]int{0, 1, 2, 3},
	PlayerRange: config.IDRange{Low: 10, High: 25},
	ItemRange:   config.IDRange{Low: 30, High: 61},
}

// fakeScene serves a scene token list and accepts creations.
type fakeScene struct {
	tokens  []RemoteToken
	lists   atomic.Int64
	creates atomic.Int64
}

func (f *fakeScene) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.lists.Add(1)
			json.NewEncoder(w).Encode(f.tokens)
		case http.MethodPost:
			n := f.creates.Add(1)
			var req CreateTokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			created := RemoteToken{ID: fmt.Sprintf("created-%d", n), Name: req.Name, Flags: req.Flags}
			f.tokens = append(f.tokens, created)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(created)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func newTestResolver(srv *httptest.Server) *Resolver {
	return NewResolver(NewClient(srv.URL, ""), testMarkers, "scene-1", slog.Default())
}

func TestResolver_MatchesByFlag(t *testing.T) {
	scene := &fakeScene{tokens: []RemoteToken{
		{ID: "tok-a", Name: "Renamed By GM", Flags: TokenFlags{MarkerID: 14}},
	}}
	srv := scene.server(t)
	defer srv.Close()

	r := newTestResolver(srv)
	id, err := r.Resolve(context.Background(), core.Token{MarkerID: 14, Category: core.CategoryPlayer}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", id)
	assert.EqualValues(t, 0, scene.creates.Load())
}

func TestResolver_MatchesByName(t *testing.T) {
	scene := &fakeScene{tokens: []RemoteToken{
		{ID: "tok-b", Name: "Goblin"},
	}}
	srv := scene.server(t)
	defer srv.Close()

	r := newTestResolver(srv)
	id, err := r.Resolve(context.Background(), core.Token{MarkerID: 30, Category: core.CategoryItem}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tok-b", id)
	assert.EqualValues(t, 0, scene.creates.Load())
}

func TestResolver_CreatesOnce(t *testing.T) {
	scene := &fakeScene{}
	srv := scene.server(t)
	defer srv.Close()

	r := newTestResolver(srv)
	tok := core.Token{MarkerID: 11, Category: core.CategoryPlayer}

	id1, err := r.Resolve(context.Background(), tok, 500, 600)
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), tok, 510, 610)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.EqualValues(t, 1, scene.creates.Load())
	assert.EqualValues(t, 1, scene.lists.Load(), "cached resolution must not re-list")
	assert.Equal(t, 1, r.Resolved())

	// The created token carries the full tracker flags.
	require.Len(t, scene.tokens, 1)
	assert.Equal(t, TokenFlags{MarkerID: 11, Category: "player"}, scene.tokens[0].Flags)
}

func TestResolver_FailureNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	scene := &fakeScene{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(scene.tokens)
	}))
	defer srv.Close()

	r := newTestResolver(srv)
	tok := core.Token{MarkerID: 40, Category: core.CategoryItem}

	_, err := r.Resolve(context.Background(), tok, 0, 0)
	require.Error(t, err)
	assert.Equal(t, 0, r.Resolved())

	// Next attempt goes back to the network.
	fail.Store(false)
	scene.tokens = []RemoteToken{{ID: "tok-c", Flags: TokenFlags{MarkerID: 40}}}
	id, err := r.Resolve(context.Background(), tok, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tok-c", id)
}

func TestResolver_Forget(t *testing.T) {
	scene := &fakeScene{}
	srv := scene.server(t)
	defer srv.Close()

	r := newTestResolver(srv)
	tok := core.Token{MarkerID: 22, Category: core.CategoryPlayer}

	_, err := r.Resolve(context.Background(), tok, 0, 0)
	require.NoError(t, err)
	r.Forget(22)
	assert.Equal(t, 0, r.Resolved())

	// Re-resolution finds the token created the first time around.
	id, err := r.Resolve(context.Background(), tok, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "created-1", id)
	assert.EqualValues(t, 1, scene.creates.Load())
}

func TestTokenName(t *testing.T) {
	assert.Equal(t, "Player_01", TokenName(testMarkers, 10))
	assert.Equal(t, "Player_16", TokenName(testMarkers, 25))
	assert.Equal(t, "Goblin", TokenName(testMarkers, 30))
	assert.Equal(t, "Objective", TokenName(testMarkers, 61))
	assert.Equal(t, "Item_38", TokenName(testMarkers, 38))
	assert.Equal(t, "Custom_70", TokenName(testMarkers, 70))
}
