// ABOUTME: Built-in coordination tools exposed over the MCP bridge
// ABOUTME: Wraps conversation history, shared memory, job control, and Azure operations

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arbiterhq/arbiter/internal/conversation"
	"github.com/arbiterhq/arbiter/internal/jobs"
)

// ConversationHistoryTool reads the retained message history for a
// conversation.
type ConversationHistoryTool struct {
	Conversations *conversation.Manager
}

func (t *ConversationHistoryTool) Describe() Definition {
	return Definition{
		Name:        "conversation_history",
		Description: "Read the retained message history for a conversation",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"conversationId": {"type": "string", "description": "Conversation to read"}
			},
			"required": ["conversationId"]
		}`),
	}
}

func (t *ConversationHistoryTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	conversationID, _ := args["conversationId"].(string)

	history, err := t.Conversations.History(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("reading history: %w", err)
	}
	if history == nil {
		history = []conversation.HistoryMessage{}
	}

	data, err := json.Marshal(history)
	if err != nil {
		return Result{}, fmt.Errorf("encoding history: %w", err)
	}
	return TextResult(string(data)), nil
}

// SharedMemoryReadTool reads the latest typed event from a conversation's
// shared memory region.
type SharedMemoryReadTool struct {
	Shared *conversation.SharedMemory
}

func (t *SharedMemoryReadTool) Describe() Definition {
	return Definition{
		Name:        "shared_memory_read",
		Description: "Read the latest shared-memory event of a given type for a conversation",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"conversationId": {"type": "string", "description": "Conversation scope"},
				"eventType": {"type": "string", "description": "Event type to read"}
			},
			"required": ["conversationId", "eventType"]
		}`),
	}
}

func (t *SharedMemoryReadTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	conversationID, _ := args["conversationId"].(string)
	eventType, _ := args["eventType"].(string)

	event, err := t.Shared.Event(ctx, conversationID, eventType)
	if err != nil {
		return Result{}, fmt.Errorf("reading shared memory: %w", err)
	}
	if event == nil {
		return ErrorResult(fmt.Sprintf("no %q event published for conversation %s", eventType, conversationID)), nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return Result{}, fmt.Errorf("encoding event: %w", err)
	}
	return TextResult(string(data)), nil
}

// SharedMemoryWriteTool publishes an event into a conversation's shared
// memory region and notifies connected clients.
type SharedMemoryWriteTool struct {
	Shared *conversation.SharedMemory
}

func (t *SharedMemoryWriteTool) Describe() Definition {
	return Definition{
		Name:        "shared_memory_write",
		Description: "Publish a shared-memory event visible to every agent in the conversation",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"conversationId": {"type": "string", "description": "Conversation scope"},
				"eventType": {"type": "string", "description": "Event type to publish"},
				"payload": {"type": "object", "description": "Event payload"}
			},
			"required": ["conversationId", "eventType", "payload"]
		}`),
	}
}

func (t *SharedMemoryWriteTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	conversationID, _ := args["conversationId"].(string)
	eventType, _ := args["eventType"].(string)

	payload, err := json.Marshal(args["payload"])
	if err != nil {
		return Result{}, fmt.Errorf("encoding payload: %w", err)
	}

	event, err := t.Shared.PublishEvent(ctx, conversationID, eventType, payload)
	if err != nil {
		return Result{}, fmt.Errorf("publishing event: %w", err)
	}
	return TextResult(fmt.Sprintf("published event %s", event.EventID)), nil
}

// JobStatusTool reads the full record of one background job.
type JobStatusTool struct {
	Jobs *jobs.Service
}

func (t *JobStatusTool) Describe() Definition {
	return Definition{
		Name:        "job_status",
		Description: "Read the status, progress, and result of a background job",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"jobId": {"type": "string", "description": "Job to inspect"}
			},
			"required": ["jobId"]
		}`),
	}
}

func (t *JobStatusTool) Execute(_ context.Context, args map[string]any) (Result, error) {
	jobID, _ := args["jobId"].(string)

	job, ok := t.Jobs.Get(jobID)
	if !ok {
		return ErrorResult(fmt.Sprintf("job not found: %s", jobID)), nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return Result{}, fmt.Errorf("encoding job: %w", err)
	}
	return TextResult(string(data)), nil
}

// JobCancelTool requests cooperative cancellation of a running job.
type JobCancelTool struct {
	Jobs *jobs.Service
}

func (t *JobCancelTool) Describe() Definition {
	return Definition{
		Name:        "job_cancel",
		Description: "Request cancellation of a running background job",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"jobId": {"type": "string", "description": "Job to cancel"}
			},
			"required": ["jobId"]
		}`),
	}
}

func (t *JobCancelTool) Execute(_ context.Context, args map[string]any) (Result, error) {
	jobID, _ := args["jobId"].(string)

	if !t.Jobs.Cancel(jobID) {
		return ErrorResult(fmt.Sprintf("job %s is not running", jobID)), nil
	}
	return TextResult(fmt.Sprintf("cancellation requested for job %s", jobID)), nil
}

// Operator executes a named infrastructure operation against a subscription.
// The concrete implementation lives with the agents that own cloud
// credentials; the tool layer only carries the request.
type Operator interface {
	Execute(ctx context.Context, operation string, params map[string]any) (json.RawMessage, error)
}

// AzureOperationTool starts a named infrastructure operation as a background
// job and returns the job handle. Callers poll job_status for the result.
type AzureOperationTool struct {
	Operator Operator
	Jobs     *jobs.Service
}

func (t *AzureOperationTool) Describe() Definition {
	return Definition{
		Name:        "azure_operation",
		Description: "Start a read-only Azure infrastructure or compliance operation as a background job",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "description": "Operation name, e.g. list_resources or compliance_report"},
				"parameters": {"type": "object", "description": "Operation parameters"},
				"conversationId": {"type": "string", "description": "Conversation the operation belongs to"}
			},
			"required": ["operation"]
		}`),
	}
}

func (t *AzureOperationTool) Execute(_ context.Context, args map[string]any) (Result, error) {
	operation, _ := args["operation"].(string)
	params, _ := args["parameters"].(map[string]any)
	conversationID, _ := args["conversationId"].(string)

	if t.Operator == nil {
		return ErrorResult("no operator configured"), nil
	}

	job, err := t.Jobs.Start(jobs.Request{
		JobType:        "azure_operation",
		ConversationID: conversationID,
		InputMessage:   operation,
	}, func(ctx context.Context, reporter *jobs.Reporter) (json.RawMessage, error) {
		reporter.StartStep(operation)
		out, err := t.Operator.Execute(ctx, operation, params)
		if err != nil {
			reporter.FailStep(operation)
			return nil, err
		}
		reporter.CompleteStep(operation)
		return out, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("starting operation: %w", err)
	}

	handle, err := json.Marshal(map[string]string{
		"jobId":  job.JobID,
		"status": string(job.Status),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding job handle: %w", err)
	}
	return TextResult(string(handle)), nil
}
