// ABOUTME: MCP-compatible HTTP transport with Streamable HTTP session management
// ABOUTME: Wraps the shared dispatcher with auth, sessions, and protocol headers

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/auth"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
}

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// session tracks an active MCP client session.
type session struct {
	id              string
	protocolVersion string
	scopes          []string
	ownerToken      string // auth token used at initialize; bound for DELETE ownership
	createdAt       time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(protocolVersion string, scopes []string, ownerToken string) *session {
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		scopes:          scopes,
		ownerToken:      ownerToken,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// ServerConfig holds configuration for the MCP HTTP transport.
type ServerConfig struct {
	Dispatcher    *Dispatcher
	Logger        *slog.Logger
	TokenVerifier auth.TokenVerifier
	TokenStore    *TokenStore // token-based auth (path segment or query param)
	RequireAuth   bool        // if true, reject initialize without valid auth
}

// Server is the MCP Streamable HTTP transport. All JSON-RPC semantics live in
// the shared dispatcher; the server only adds sessions, auth, and headers.
type Server struct {
	dispatcher  *Dispatcher
	logger      *slog.Logger
	verifier    auth.TokenVerifier
	tokenStore  *TokenStore
	requireAuth bool
	sessions    *sessionStore
}

// NewServer creates the MCP HTTP transport.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.RequireAuth && cfg.TokenVerifier == nil && cfg.TokenStore == nil {
		return nil, errors.New("token verifier or token store required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		dispatcher:  cfg.Dispatcher,
		logger:      logger.With("component", "mcp-http"),
		verifier:    cfg.TokenVerifier,
		tokenStore:  cfg.TokenStore,
		requireAuth: cfg.RequireAuth,
		sessions:    newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
// Supports both /mcp (bare) and /mcp/<token> (token-in-path) access patterns.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session. The caller must carry the same auth the
// session was created with.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" {
		callerToken := s.extractOwnerToken(r)
		if callerToken != sess.ownerToken {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message per request body.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeFrame(w, encodeError(nil, CodeParseError, "failed to read request body"))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeFrame(w, encodeError(nil, CodeInvalidRequest, "request body too large"))
		return
	}

	// Peek at the envelope for session routing; the dispatcher re-parses and
	// owns all protocol-level validation.
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeFrame(w, encodeError(nil, CodeParseError, "invalid JSON"))
		return
	}

	isInitialize := req.Method == "initialize"

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported Mcp-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		scopes, authErr := s.authenticate(r)
		if authErr != nil {
			if errors.Is(authErr, errInvalidToken) {
				s.writeFrame(w, encodeError(nil, CodeInvalidRequest, "invalid or expired token"))
				return
			}
			if s.requireAuth {
				s.writeFrame(w, encodeError(nil, CodeInvalidRequest, "authentication required"))
				return
			}
		}

		sess := s.sessions.create(latestProtocolVersion, scopes, s.extractOwnerToken(r))
		s.logger.Info("MCP session created", "session_id", sess.id)
		w.Header().Set("Mcp-Session-Id", sess.id)
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.get(sessionID); !ok {
			// Session expired or invalid, client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	resp, hasResp := s.dispatcher.Dispatch(r.Context(), body)
	if !hasResp {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeFrame(w, resp)
}

// errInvalidToken marks auth that was presented but failed verification, as
// opposed to auth that was simply absent.
var errInvalidToken = errors.New("invalid or expired token")

// authenticate resolves the caller's scopes from path token, query token, or
// bearer JWT, in that order.
func (s *Server) authenticate(r *http.Request) ([]string, error) {
	// Token in URL path (e.g. /mcp/<token>)
	if pathToken := strings.TrimPrefix(r.URL.Path, "/mcp/"); pathToken != "" && pathToken != r.URL.Path {
		pathToken = strings.TrimRight(pathToken, "/")
		if strings.Contains(pathToken, "/") {
			return nil, errInvalidToken
		}
		if s.tokenStore != nil {
			if scopes := s.tokenStore.Validate(pathToken); scopes != nil {
				return scopes, nil
			}
		}
		return nil, errInvalidToken
	}

	// Token query parameter
	if token := r.URL.Query().Get("token"); token != "" {
		if s.tokenStore != nil {
			if scopes := s.tokenStore.Validate(token); scopes != nil {
				return scopes, nil
			}
		}
		return nil, errInvalidToken
	}

	// Authorization header with a JWT
	if s.verifier == nil {
		return nil, errors.New("no authentication provided")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.New("missing authorization")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, errors.New("invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return nil, errors.New("empty token")
	}

	id, err := s.verifier.Verify(token)
	if err != nil {
		return nil, errInvalidToken
	}
	return id.Scopes, nil
}

// extractOwnerToken derives a stable identity string from the request's auth
// credentials. Used to bind sessions to their creator.
func (s *Server) extractOwnerToken(r *http.Request) string {
	if pathToken := strings.TrimPrefix(r.URL.Path, "/mcp/"); pathToken != "" && pathToken != r.URL.Path {
		return strings.TrimRight(pathToken, "/")
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func (s *Server) writeFrame(w http.ResponseWriter, frame []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(frame); err != nil {
		s.logger.Warn("failed to write JSON-RPC response", "error", err)
	}
}
