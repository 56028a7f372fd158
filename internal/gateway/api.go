// ABOUTME: HTTP API handlers for chat queries, history, SSE streaming, and job status
// ABOUTME: Queries run as background jobs; replies stream over the channel manager

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/channel"
	"github.com/arbiterhq/arbiter/internal/conversation"
	"github.com/arbiterhq/arbiter/internal/jobs"
	"github.com/arbiterhq/arbiter/internal/transcript"
)

// IntelligentQueryRequest is the JSON request body for
// POST /api/chat/intelligent-query.
type IntelligentQueryRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// IntelligentQueryResponse acknowledges an accepted query with the job that
// is answering it.
type IntelligentQueryResponse struct {
	JobID          string `json:"jobId"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
}

// HistoryResponse is the JSON response for GET /api/chat/history/{id}.
type HistoryResponse struct {
	ConversationID string                        `json:"conversationId"`
	Source         string                        `json:"source"` // "state" or "transcript"
	Messages       []conversation.HistoryMessage `json:"messages"`
}

// JobStatusResponse is the JSON response for GET /api/jobs/{id}.
type JobStatusResponse struct {
	JobID           string   `json:"jobId"`
	Status          string   `json:"status"`
	PercentComplete int      `json:"percentComplete"`
	CurrentStep     string   `json:"currentStep,omitempty"`
	CompletedSteps  []string `json:"completedSteps"`
	FailedSteps     []string `json:"failedSteps"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
}

// parseQueryRequest parses and validates an IntelligentQueryRequest.
func parseQueryRequest(r io.Reader) (*IntelligentQueryRequest, error) {
	var req IntelligentQueryRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Message == "" {
		return nil, errors.New("message is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}
	return &req, nil
}

// handleIntelligentQuery records the user message, starts the agent
// invocation as a background job, and returns the job handle immediately.
// The reply streams over the conversation's channel as the job runs.
func (g *Gateway) handleIntelligentQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if g.invoker == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "no agent backend configured")
		return
	}

	req, err := parseQueryRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	userMsg := conversation.HistoryMessage{Role: conversation.RoleUser, Content: req.Message}
	if _, err := g.convs.AppendMessage(r.Context(), req.ConversationID, req.UserID, userMsg); err != nil {
		g.logger.Error("failed to record user message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if _, err := g.transcript.Append(r.Context(), transcript.Entry{
		ConversationID: req.ConversationID,
		Role:           conversation.RoleUser,
		Content:        req.Message,
	}); err != nil {
		// The live context holds the message; archive failure is non-fatal
		g.logger.Warn("failed to archive user message", "error", err)
	}

	job, err := g.jobs.Start(jobs.Request{
		JobType:        "intelligent_query",
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		InputMessage:   req.Message,
	}, g.queryWorkload(*req))
	if err != nil {
		g.logger.Error("failed to start query job", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(IntelligentQueryResponse{
		JobID:          job.JobID,
		ConversationID: job.ConversationID,
		Status:         string(job.Status),
	})
}

// queryWorkload builds the background job body for one intelligent query.
func (g *Gateway) queryWorkload(req IntelligentQueryRequest) jobs.Workload {
	return func(ctx context.Context, reporter *jobs.Reporter) (json.RawMessage, error) {
		g.channels.SendToConversation(ctx, req.ConversationID, channel.NewMessage(
			req.ConversationID, channel.TypeAgentThinking, "", "orchestrator"))

		reply, err := g.invoker.Invoke(ctx, InvokeRequest{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Message:        req.Message,
		}, reporter)
		if err != nil {
			g.channels.SendToConversation(ctx, req.ConversationID, channel.NewMessage(
				req.ConversationID, channel.TypeError, err.Error(), "orchestrator"))
			return nil, err
		}

		assistantMsg := conversation.HistoryMessage{
			Role:      conversation.RoleAssistant,
			Content:   reply,
			AgentType: "orchestrator",
		}
		if _, err := g.convs.AppendMessage(ctx, req.ConversationID, req.UserID, assistantMsg); err != nil {
			return nil, fmt.Errorf("recording reply: %w", err)
		}
		if _, err := g.transcript.Append(ctx, transcript.Entry{
			ConversationID: req.ConversationID,
			Role:           conversation.RoleAssistant,
			Content:        reply,
			AgentType:      "orchestrator",
		}); err != nil {
			g.logger.Warn("failed to archive reply", "error", err)
		}

		lastRun := map[string]string{
			"message":     req.Message,
			"completedAt": time.Now().UTC().Format(time.RFC3339),
		}
		if err := g.agentState.Set(ctx, req.ConversationID, "orchestrator", "last_run", lastRun); err != nil {
			g.logger.Warn("failed to record agent state", "conversation_id", req.ConversationID, "error", err)
		}

		if err := g.channels.StreamToConversation(ctx, req.ConversationID, "orchestrator", reply); err != nil {
			// Delivery failures never fail the job; the reply is recorded
			g.logger.Warn("failed to stream reply", "conversation_id", req.ConversationID, "error", err)
		}

		return json.Marshal(map[string]string{"response": reply})
	}
}

// handleHistory serves GET /api/chat/history/{conversationId}. The live
// conversation context is the primary source; once its TTL has expired the
// transcript archive answers instead.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := strings.TrimPrefix(r.URL.Path, "/api/chat/history/")
	if conversationID == "" || strings.Contains(conversationID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	messages, err := g.convs.History(r.Context(), conversationID)
	if err != nil {
		g.logger.Error("failed to read history", "conversation_id", conversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	source := "state"
	if len(messages) == 0 {
		entries, err := g.transcript.History(r.Context(), conversationID, 0)
		if err != nil {
			g.logger.Error("failed to read transcript", "conversation_id", conversationID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		source = "transcript"
		for _, e := range entries {
			messages = append(messages, conversation.HistoryMessage{
				Role:      e.Role,
				Content:   e.Content,
				AgentType: e.AgentType,
				Timestamp: e.CreatedAt,
			})
		}
	}
	if messages == nil {
		messages = []conversation.HistoryMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HistoryResponse{
		ConversationID: conversationID,
		Source:         source,
		Messages:       messages,
	})
}

// handleStream serves GET /api/chat/stream/{conversationId}: registers an SSE
// connection, joins it to the conversation, and drains its outbox until the
// client goes away.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := strings.TrimPrefix(r.URL.Path, "/api/chat/stream/")
	if conversationID == "" || strings.Contains(conversationID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := r.URL.Query().Get("userId")
	connectionID := uuid.New().String()
	g.channels.Register(connectionID, userID)
	defer g.channels.Unregister(connectionID)
	g.channels.JoinConversation(connectionID, conversationID)

	outbox, ok := g.channels.Receive(connectionID)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", map[string]string{"connectionId": connectionID})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-outbox:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(msg.Type), msg)
			flusher.Flush()
		}
	}
}

// handleJobStatus serves GET /api/jobs/{jobId}.
func (g *Gateway) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "job id is required")
		return
	}

	job, ok := g.jobs.Get(jobID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := JobStatusResponse{
		JobID:           job.JobID,
		Status:          string(job.Status),
		PercentComplete: job.Progress.PercentComplete,
		CurrentStep:     job.Progress.CurrentStep,
		CompletedSteps:  job.Progress.CompletedSteps,
		FailedSteps:     job.Progress.FailedSteps,
		ErrorMessage:    job.ErrorMessage,
	}
	if resp.CompletedSteps == nil {
		resp.CompletedSteps = []string{}
	}
	if resp.FailedSteps == nil {
		resp.FailedSteps = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeSSEEvent writes a single SSE event with JSON data.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
