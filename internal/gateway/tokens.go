// ABOUTME: Admin endpoints for minting and revoking MCP access tokens
// ABOUTME: Mounted only when JWT auth is configured; the token is shown once

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// MCPTokenRequest is the JSON request body for POST /api/mcp/tokens.
type MCPTokenRequest struct {
	Scopes []string `json:"scopes"`
}

// MCPTokenResponse carries a freshly minted token. The token value is
// returned exactly once; only a hash is kept server-side.
type MCPTokenResponse struct {
	Token  string   `json:"token"`
	Scopes []string `json:"scopes"`
}

// handleMCPTokenCreate serves POST /api/mcp/tokens. An empty body mints a
// token with no scopes.
func (g *Gateway) handleMCPTokenCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req MCPTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, err := g.mcpTokens.CreateToken(req.Scopes)
	if err != nil {
		g.logger.Error("failed to mint MCP token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("MCP token minted", "active_tokens", g.mcpTokens.TokenCount())

	scopes := req.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(MCPTokenResponse{Token: token, Scopes: scopes})
}

// handleMCPTokenRevoke serves DELETE /api/mcp/tokens/{id}. Accepts either the
// bare token id or a full token value; revoking an unknown id is a no-op.
func (g *Gateway) handleMCPTokenRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/mcp/tokens/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "token id is required")
		return
	}

	g.mcpTokens.InvalidateToken(id)
	w.WriteHeader(http.StatusNoContent)
}
