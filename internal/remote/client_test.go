package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ListTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/scenes/scene-1/tokens", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]RemoteToken{
			{ID: "tok-1", Name: "Player_01", Flags: TokenFlags{MarkerID: 10}},
			{ID: "tok-2", Name: "Goblin"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key")
	tokens, err := c.ListTokens(context.Background(), "scene-1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "tok-1", tokens[0].ID)
	assert.Equal(t, 10, tokens[0].Flags.MarkerID)
}

func TestClient_CreateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/scenes/scene-1/tokens", r.URL.Path)

		var req CreateTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Player_03", req.Name)
		assert.Equal(t, 12, req.Flags.MarkerID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(RemoteToken{ID: "tok-new", Name: req.Name, Flags: req.Flags})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	created, err := c.CreateToken(context.Background(), "scene-1", CreateTokenRequest{
		Name: "Player_03", X: 100, Y: 200, Flags: TokenFlags{MarkerID: 12},
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-new", created.ID)
}

func TestClient_CreateToken_Non201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.CreateToken(context.Background(), "scene-1", CreateTokenRequest{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestClient_UpdateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/tokens/tok-7", r.URL.Path)

		var patch TokenPatch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		assert.Equal(t, 1500, patch.X)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	require.NoError(t, c.UpdateToken(context.Background(), "tok-7", TokenPatch{X: 1500, Y: 900}))
}

func TestClient_Healthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	assert.NoError(t, c.Healthcheck(context.Background()))

	srv.Close()
	assert.Error(t, c.Healthcheck(context.Background()))
}
