// Command cairn is the Cairn CLI client.
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/version"
	"github.com/GoCodeAlone/cairn/task"
)

const defaultServer = "http://localhost:9090"

var (
	flagServer  string
	flagToken   string
	flagJSON    bool
	flagNoColor bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cairn",
		Short:         "Cairn CLI: manage task lists and their dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if flagNoColor {
				color.NoColor = true
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("CAIRN_SERVER", defaultServer), "server URL (or $CAIRN_SERVER)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("CAIRN_TOKEN"), "JWT auth token (or $CAIRN_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		versionCmd(),
		loginCmd(),
		statusCmd(),
		listsCmd(),
		listCmd(),
		tasksCmd(),
		taskCmd(),
		depsCmd(),
		readyCmd(),
		blockedCmd(),
		analyzeCmd(),
	)
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func client() *Client {
	return &Client{
		BaseURL:    strings.TrimRight(flagServer, "/"),
		Token:      flagToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// --- version / login / status ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String("cairn"))
		},
	}
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a token; export it as CAIRN_TOKEN",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}
			body := map[string]string{"username": username, "password": password}
			if err := client().post("/api/auth/login", body, &resp); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export CAIRN_TOKEN=%s\n", resp.Token)
			fmt.Fprintln(cmd.ErrOrStderr(), dim("expires "+resp.ExpiresAt.Local().Format(time.RFC1123)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "username")
	cmd.Flags().StringVarP(&password, "password", "p", os.Getenv("CAIRN_PASSWORD"), "password (or $CAIRN_PASSWORD)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result map[string]any
			if err := client().get("/api/status", &result); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status:  %s\n", green(result["status"]))
			fmt.Fprintf(w, "version: %v\n", result["version"])
			if up, ok := result["uptime_seconds"].(float64); ok {
				fmt.Fprintf(w, "uptime:  %s\n", time.Duration(up)*time.Second)
			}
			return nil
		},
	}
}

// --- lists ---

func listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "List task lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var lists []*task.List
			if err := client().get("/api/lists", &lists); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), lists)
			}
			w := cmd.OutOrStdout()
			if len(lists) == 0 {
				fmt.Fprintln(w, dim("no lists"))
				return nil
			}
			fmt.Fprintf(w, "%-36s %s\n", bold("ID"), bold("NAME"))
			fmt.Fprintln(w, strings.Repeat("-", 60))
			for _, l := range lists {
				fmt.Fprintf(w, "%-36s %s\n", l.ID, l.Name)
			}
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage a task list",
	}
	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var l task.List
			body := task.List{Name: strings.Join(args, " "), Description: description}
			if err := client().post("/api/lists", body, &l); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), l)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created list %s\n", bold(l.ID))
			return nil
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "list description")
	cmd.AddCommand(create)
	return cmd
}

// --- tasks ---

func tasksCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks <list-id>",
		Short: "List the tasks of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/lists/" + url.PathEscape(args[0]) + "/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var tasks []*task.Task
			if err := client().get(path, &tasks); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of tasks")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and update tasks",
	}
	cmd.AddCommand(taskCreateCmd(), taskShowCmd(), taskStatusCmd(), taskDeleteCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var (
		description string
		priority    string
		estimate    int
		deps        []string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "create <list-id> <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := task.Task{
				ListID:       args[0],
				Title:        strings.Join(args[1:], " "),
				Description:  description,
				Priority:     task.Priority(priority),
				Dependencies: deps,
				Tags:         tags,
			}
			if estimate > 0 {
				body.EstimatedDuration = &estimate
			}
			var created task.Task
			if err := client().post("/api/tasks", body, &created); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created task %s\n", bold(created.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium, high or urgent")
	cmd.Flags().IntVarP(&estimate, "estimate", "e", 0, "estimated duration in minutes")
	cmd.Flags().StringSliceVar(&deps, "deps", nil, "comma-separated dependency task ids")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t task.Task
			if err := client().get("/api/tasks/"+url.PathEscape(args[0]), &t); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			printTask(cmd.OutOrStdout(), &t)
			return nil
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t task.Task
			body := map[string]string{"status": args[1]}
			if err := client().do(http.MethodPatch, "/api/tasks/"+url.PathEscape(args[0]), body, &t); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", bold(t.Title), statusLabel(t.Status))
			return nil
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().do(http.MethodDelete, "/api/tasks/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", args[0])
			return nil
		},
	}
}

// --- dependencies ---

func depsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Edit and check task dependencies",
	}
	set := &cobra.Command{
		Use:   "set <task-id> [dep-id...]",
		Short: "Replace a task's dependencies (no ids clears them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t task.Task
			body := map[string][]string{"dependencies": depArgs(args[1:])}
			if err := client().do(http.MethodPut, "/api/tasks/"+url.PathEscape(args[0])+"/dependencies", body, &t); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s now depends on %d task(s)\n", green("ok"), bold(t.Title), len(t.Dependencies))
			return nil
		},
	}
	check := &cobra.Command{
		Use:   "check <task-id> [dep-id...]",
		Short: "Dry run: report cycles a dependency edit would create",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res depgraph.CircularDependencyResult
			body := map[string][]string{"dependencies": depArgs(args[1:])}
			if err := client().post("/api/tasks/"+url.PathEscape(args[0])+"/dependencies/validate", body, &res); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printCycles(cmd, res)
			return nil
		},
	}
	cmd.AddCommand(set, check)
	return cmd
}

// depArgs never returns nil so an empty edit is sent as [].
func depArgs(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}

func printCycles(cmd *cobra.Command, res depgraph.CircularDependencyResult) {
	w := cmd.OutOrStdout()
	if !res.HasCircularDependency {
		fmt.Fprintln(w, green("no cycles"))
		return
	}
	for _, c := range res.Cycles {
		fmt.Fprintf(w, "%s %s\n", red("cycle:"), strings.Join(c, " -> "))
	}
}

func readyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ready <list-id>",
		Short: "List tasks whose dependencies are all completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/lists/" + url.PathEscape(args[0]) + "/ready"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var tasks []*task.Task
			if err := client().get(path, &tasks); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of tasks")
	return cmd
}

func blockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked <task-id>",
		Short: "Explain what a task is waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reason depgraph.BlockReason
			if err := client().get("/api/tasks/"+url.PathEscape(args[0])+"/block-reason", &reason); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), reason)
			}
			w := cmd.OutOrStdout()
			if !reason.Blocked() {
				fmt.Fprintf(w, "%s %s is not blocked\n", green("ok"), reason.TaskID)
				return nil
			}
			fmt.Fprintf(w, "%s waiting on %d task(s):\n", bold(reason.TaskID), len(reason.BlockedBy))
			for _, d := range reason.Details {
				switch {
				case d.Missing:
					fmt.Fprintf(w, "  %s %s\n", d.TaskID, red("(missing)"))
				case d.EstimatedCompletion != nil:
					fmt.Fprintf(w, "  %s %s %s %s\n", d.TaskID, d.TaskTitle, statusLabel(d.Status),
						dim("eta "+d.EstimatedCompletion.Local().Format(time.Kitchen)))
				default:
					fmt.Fprintf(w, "  %s %s %s\n", d.TaskID, d.TaskTitle, statusLabel(d.Status))
				}
			}
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <list-id>",
		Short: "Summarize readiness, critical path and bottlenecks of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var a depgraph.DependencyAnalysis
			if err := client().get("/api/lists/"+url.PathEscape(args[0])+"/analysis", &a); err != nil {
				return err
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), a)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tasks:     %d\n", a.TotalTasks)
			fmt.Fprintf(w, "ready:     %s\n", green(a.ReadyTasks))
			fmt.Fprintf(w, "blocked:   %s\n", yellow(a.BlockedTasks))
			fmt.Fprintf(w, "completed: %d\n", a.CompletedTasks)
			if len(a.CriticalPath) > 0 {
				fmt.Fprintf(w, "critical path (%d): %s\n", len(a.CriticalPath), strings.Join(a.CriticalPath, " -> "))
			}
			if len(a.PotentialBottlenecks) > 0 {
				fmt.Fprintf(w, "bottlenecks: %s\n", red(strings.Join(a.PotentialBottlenecks, ", ")))
			}
			return nil
		},
	}
}
