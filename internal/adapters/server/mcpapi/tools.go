package mcpapi

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/domain"
)

// stateNames lists the workflow states accepted as transition targets.
func stateNames() []string {
	states := domain.States()
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}

// registerTaskTools registers the task lifecycle tools.
func registerTaskTools(srv *mcpserver.MCPServer, tasks common.TaskService) {
	srv.AddTool(
		mcp.NewTool(
			"taskgate.create_task",
			mcp.WithDescription("Create one task in an application. The task starts Open and unassigned."),
			mcp.WithString("app_acronym", mcp.Required(), mcp.Description("Application acronym")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Task name (max 50 chars)")),
			mcp.WithString("description", mcp.Description("Task description (max 255 chars)")),
			mcp.WithString("plan", mcp.Description("Optional plan name in the application")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args common.CreateTaskRequest
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if strings.TrimSpace(args.AppAcronym) == "" {
				return mcp.NewToolResultError(`invalid_input: required argument "app_acronym" not found`), nil
			}
			task, err := tasks.CreateTask(ctx, args)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_task", task)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.transition_task",
			mcp.WithDescription("Move a task along one workflow edge. expected_plan/new_plan carry a staged plan for Approve and Reject."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id, e.g. APP1_3")),
			mcp.WithString("target", mcp.Required(), mcp.Description("Target state"), mcp.Enum(stateNames()...)),
			mcp.WithString("expected_plan", mcp.Description("Plan the caller last saw persisted")),
			mcp.WithString("new_plan", mcp.Description("Staged plan value")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				TaskID       string  `json:"task_id"`
				Target       string  `json:"target"`
				ExpectedPlan *string `json:"expected_plan"`
				NewPlan      *string `json:"new_plan"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			task, err := tasks.TransitionTask(ctx, common.TransitionTaskRequest{
				TaskID:       args.TaskID,
				Target:       args.Target,
				ExpectedPlan: args.ExpectedPlan,
				NewPlan:      args.NewPlan,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("transition_task", task)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.change_plan",
			mcp.WithDescription("Replace the plan of an Open task. An empty plan clears it."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("plan", mcp.Description("New plan name, empty to clear")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			task, err := tasks.ChangePlan(ctx, common.ChangePlanRequest{TaskID: taskID, Plan: req.GetString("plan", "")})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("change_plan", task)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.append_note",
			mcp.WithDescription("Append a note to a task's ledger."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Note text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			message, err := req.RequireString("message")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			task, err := tasks.AppendNote(ctx, common.AppendNoteRequest{TaskID: taskID, Message: message})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("append_note", task)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.get_task",
			mcp.WithDescription("Return one task snapshot."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			task, err := tasks.GetTask(ctx, taskID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("get_task", task)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.list_tasks",
			mcp.WithDescription("List every task in creation order."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := tasks.ListTasks(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_tasks", map[string]any{"tasks": rows})
		},
	)
}

// registerRegistryTools registers the read-only caller and registry tools.
func registerRegistryTools(srv *mcpserver.MCPServer, tasks common.TaskService) {
	srv.AddTool(
		mcp.NewTool(
			"taskgate.whoami",
			mcp.WithDescription("Return the authenticated principal."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			me, err := tasks.Me(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("whoami", me)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.list_applications",
			mcp.WithDescription("List applications and their permit sets."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := tasks.ListApplications(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_applications", map[string]any{"applications": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.list_plans",
			mcp.WithDescription("List the plans of one application."),
			mcp.WithString("app_acronym", mcp.Required(), mcp.Description("Application acronym")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			acronym, err := req.RequireString("app_acronym")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			rows, err := tasks.ListPlans(ctx, acronym)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_plans", map[string]any{"plans": rows})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"taskgate.access",
			mcp.WithDescription("Report which workflow gates the caller passes in one application."),
			mcp.WithString("app_acronym", mcp.Required(), mcp.Description("Application acronym")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			acronym, err := req.RequireString("app_acronym")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			access, err := tasks.Access(ctx, acronym)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("access", access)
		},
	)
}
