// Package mcptools exposes lists, tasks and dependency orchestration as MCP
// tools so agents can plan work the same way REST clients do.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/service"
	"github.com/GoCodeAlone/cairn/task"
)

// Service is the subset of the application service the tools call.
type Service interface {
	CreateList(ctx context.Context, l *task.List) (*task.List, error)
	Lists(ctx context.Context) ([]*task.List, error)

	CreateTask(ctx context.Context, t *task.Task) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, filter task.Filter) ([]*task.Task, error)
	SetStatus(ctx context.Context, id string, status task.Status) (*task.Task, error)
	DeleteTask(ctx context.Context, id string) error

	SetDependencies(ctx context.Context, id string, deps []string) (*task.Task, error)
	ValidateDependencies(ctx context.Context, id string, deps []string) (*depgraph.CircularDependencyResult, error)
	BlockReason(ctx context.Context, id string) (*depgraph.BlockReason, error)
	ReadyTasks(ctx context.Context, listID string, limit int) ([]*task.Task, error)
	Analyze(ctx context.Context, listID string) (*depgraph.DependencyAnalysis, error)
	ListCycles(ctx context.Context, listID string) (*depgraph.CircularDependencyResult, error)
}

var _ Service = (*service.Service)(nil)

const serverName = "cairn"

// NewServer creates an MCP server with every tool registered.
func NewServer(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.AddTools(New(svc).ServerTools()...)
	return s
}

const instructions = `Cairn tracks tasks grouped in lists. Tasks may depend on other tasks; ` +
	`a task is ready once every dependency is completed. Use get_ready_tasks to pick work, ` +
	`validate_dependencies before set_task_dependencies when unsure, and get_block_reason ` +
	`to see what a task is waiting on. Dependency edits that would create a cycle are rejected.`

// Tools holds the tool handlers.
type Tools struct {
	svc Service
}

// New creates the tool set over svc.
func New(svc Service) *Tools {
	return &Tools{svc: svc}
}

// ServerTools returns every tool definition paired with its handler.
func (t *Tools) ServerTools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createListTool(), Handler: t.createList},
		{Tool: listListsTool(), Handler: t.listLists},
		{Tool: createTaskTool(), Handler: t.createTask},
		{Tool: getTaskTool(), Handler: t.getTask},
		{Tool: listTasksTool(), Handler: t.listTasks},
		{Tool: updateTaskStatusTool(), Handler: t.updateTaskStatus},
		{Tool: deleteTaskTool(), Handler: t.deleteTask},
		{Tool: setTaskDependenciesTool(), Handler: t.setTaskDependencies},
		{Tool: validateDependenciesTool(), Handler: t.validateDependencies},
		{Tool: getBlockReasonTool(), Handler: t.getBlockReason},
		{Tool: getReadyTasksTool(), Handler: t.getReadyTasks},
		{Tool: analyzeDependenciesTool(), Handler: t.analyzeDependencies},
		{Tool: detectListCyclesTool(), Handler: t.detectListCycles},
	}
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError reports a domain failure as a tool result so the calling agent
// can read it and adjust. Cycle errors carry the offending path.
func toolError(err error) *mcp.CallToolResult {
	var cycle *depgraph.CircularDependencyError
	if errors.As(err, &cycle) {
		b, _ := json.Marshal(map[string]any{"error": err.Error(), "cycle": cycle.Cycle})
		return mcp.NewToolResultError(string(b))
	}
	return mcp.NewToolResultError(err.Error())
}

func dependenciesArg(opts ...mcp.PropertyOption) mcp.ToolOption {
	return mcp.WithArray("dependencies", append([]mcp.PropertyOption{
		mcp.Description("Ids of tasks that must complete first. Replaces the current list; pass [] to clear."),
		mcp.Items(map[string]any{"type": "string"}),
	}, opts...)...)
}

// --- Tool definitions ---

func createListTool() mcp.Tool {
	return mcp.NewTool("create_list",
		mcp.WithDescription("Create a task list."),
		mcp.WithString("name", mcp.Required(), mcp.Description("List name")),
		mcp.WithString("description", mcp.Description("Optional description")),
	)
}

func listListsTool() mcp.Tool {
	return mcp.NewTool("list_lists",
		mcp.WithDescription("List all task lists."),
	)
}

func createTaskTool() mcp.Tool {
	return mcp.NewTool("create_task",
		mcp.WithDescription("Create a task, optionally with dependencies. Rejected if a dependency is unknown or would form a cycle."),
		mcp.WithString("list_id", mcp.Required(), mcp.Description("Owning list id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short task title")),
		mcp.WithString("description", mcp.Description("Longer description")),
		mcp.WithString("priority", mcp.Enum("low", "medium", "high", "urgent")),
		mcp.WithNumber("estimated_duration", mcp.Description("Estimate in minutes")),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
		dependenciesArg(),
	)
}

func getTaskTool() mcp.Tool {
	return mcp.NewTool("get_task",
		mcp.WithDescription("Fetch one task by id."),
		mcp.WithString("task_id", mcp.Required()),
	)
}

func listTasksTool() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List the tasks of a list in creation order."),
		mcp.WithString("list_id", mcp.Required()),
		mcp.WithString("status", mcp.Enum("pending", "in_progress", "completed", "blocked", "cancelled")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks, 0 for all")),
	)
}

func updateTaskStatusTool() mcp.Tool {
	return mcp.NewTool("update_task_status",
		mcp.WithDescription("Move a task to a new status."),
		mcp.WithString("task_id", mcp.Required()),
		mcp.WithString("status", mcp.Required(), mcp.Enum("pending", "in_progress", "completed", "blocked", "cancelled")),
	)
}

func deleteTaskTool() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. It is removed from every dependent's dependency list."),
		mcp.WithString("task_id", mcp.Required()),
	)
}

func setTaskDependenciesTool() mcp.Tool {
	return mcp.NewTool("set_task_dependencies",
		mcp.WithDescription("Replace a task's dependencies. Rejected with the cycle path if the edit would create a circular dependency."),
		mcp.WithString("task_id", mcp.Required()),
		dependenciesArg(mcp.Required()),
	)
}

func validateDependenciesTool() mcp.Tool {
	return mcp.NewTool("validate_dependencies",
		mcp.WithDescription("Dry run of set_task_dependencies: report any cycles the edit would create without changing anything."),
		mcp.WithString("task_id", mcp.Required()),
		dependenciesArg(mcp.Required()),
	)
}

func getBlockReasonTool() mcp.Tool {
	return mcp.NewTool("get_block_reason",
		mcp.WithDescription("Explain which incomplete dependencies a task is waiting on."),
		mcp.WithString("task_id", mcp.Required()),
	)
}

func getReadyTasksTool() mcp.Tool {
	return mcp.NewTool("get_ready_tasks",
		mcp.WithDescription("List pending or in-progress tasks whose dependencies are all completed."),
		mcp.WithString("list_id", mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks, 0 for all")),
	)
}

func analyzeDependenciesTool() mcp.Tool {
	return mcp.NewTool("analyze_dependencies",
		mcp.WithDescription("Summarize a list: ready, blocked and completed counts, dependency chains, critical path and bottlenecks."),
		mcp.WithString("list_id", mcp.Required()),
	)
}

func detectListCyclesTool() mcp.Tool {
	return mcp.NewTool("detect_list_cycles",
		mcp.WithDescription("Audit the stored dependencies of a list for cycles."),
		mcp.WithString("list_id", mcp.Required()),
	)
}

// --- Handlers ---

func (t *Tools) createList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	l, err := t.svc.CreateList(ctx, &task.List{Name: name, Description: req.GetString("description", "")})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(l)
}

func (t *Tools) listLists(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lists, err := t.svc.Lists(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(lists)
}

func (t *Tools) createTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tk := &task.Task{
		ListID:       listID,
		Title:        title,
		Description:  req.GetString("description", ""),
		Priority:     task.Priority(req.GetString("priority", "")),
		Tags:         req.GetStringSlice("tags", nil),
		Dependencies: req.GetStringSlice("dependencies", nil),
	}
	if _, ok := req.GetArguments()["estimated_duration"]; ok {
		est, err := req.RequireInt("estimated_duration")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		tk.EstimatedDuration = &est
	}
	created, err := t.svc.CreateTask(ctx, tk)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(created)
}

func (t *Tools) getTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tk, err := t.svc.GetTask(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tk)
}

func (t *Tools) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := task.Filter{ListID: listID, Limit: req.GetInt("limit", 0)}
	if s := req.GetString("status", ""); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	tasks, err := t.svc.ListTasks(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tasks)
}

func (t *Tools) updateTaskStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tk, err := t.svc.SetStatus(ctx, id, task.Status(status))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tk)
}

func (t *Tools) deleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.svc.DeleteTask(ctx, id); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]string{"deleted": id})
}

func (t *Tools) setTaskDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps, err := req.RequireStringSlice("dependencies")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tk, err := t.svc.SetDependencies(ctx, id, deps)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tk)
}

func (t *Tools) validateDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deps, err := req.RequireStringSlice("dependencies")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.svc.ValidateDependencies(ctx, id, deps)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (t *Tools) getBlockReason(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, err := t.svc.BlockReason(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(reason)
}

func (t *Tools) getReadyTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tasks, err := t.svc.ReadyTasks(ctx, listID, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(tasks)
}

func (t *Tools) analyzeDependencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := t.svc.Analyze(ctx, listID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(a)
}

func (t *Tools) detectListCycles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.svc.ListCycles(ctx, listID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}
