package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/crmpilot/internal/auth"
	"github.com/kalambet/crmpilot/internal/config"
	"github.com/kalambet/crmpilot/internal/storage"
)

// --- ai ---

var aiCmd = &cobra.Command{
	Use:   "ai",
	Short: "Ask the assistant about customers and interactions",
}

// runAI posts one assistant action and prints the text stored under key.
func runAI(ctx context.Context, action string, data map[string]string, key string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(ctx, "/ai", map[string]any{"action": action, "data": data})
	if err != nil {
		return err
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	fmt.Fprintln(stdout, result[key])
	return nil
}

var aiInsightsCmd = &cobra.Command{
	Use:   "insights <customer-id>",
	Short: "Generate insights for a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAI(cmd.Context(), "generateInsights", map[string]string{"customerId": args[0]}, "insights")
	},
}

var aiSuggestCmd = &cobra.Command{
	Use:   "suggest <customer-id>",
	Short: "Suggest follow-up tasks for a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAI(cmd.Context(), "suggestTasks", map[string]string{"customerId": args[0]}, "suggestions")
	},
}

var aiSummarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize interaction notes",
	Long: `Summarize interaction notes.

Examples:
  crmpilot ai summarize --text "Met the CTO, they want a pilot in Q3"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("--text is required")
		}
		return runAI(cmd.Context(), "summarizeInteraction", map[string]string{"details": text}, "summary")
	},
}

func init() {
	aiSummarizeCmd.Flags().String("text", "", "interaction notes to summarize")
	aiCmd.AddCommand(aiInsightsCmd, aiSuggestCmd, aiSummarizeCmd)
}

// --- transcribe ---

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe an audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s...", args[0])
		resp, err := client.upload(cmd.Context(), "/transcribe", "audio", args[0])
		if err != nil {
			return err
		}

		var result struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprintln(stdout, result.Text)
		return nil
	},
}

// --- customers ---

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Manage customers",
}

var customersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/customers?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var customers []storage.Customer
		if err := decodeJSON(resp, &customers); err != nil {
			return err
		}
		if len(customers) == 0 {
			fmt.Fprintln(stdout, "No customers found.")
			return nil
		}

		rows := make([][]string, 0, len(customers))
		for _, c := range customers {
			rows = append(rows, []string{c.ID, c.Name, c.Company, string(c.Status)})
		}
		printRows(rows)
		return nil
	},
}

var customersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/customers/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var customer storage.Customer
		if err := decodeJSON(resp, &customer); err != nil {
			return err
		}
		return printJSON(customer)
	},
}

var customersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		company, _ := cmd.Flags().GetString("company")
		typ, _ := cmd.Flags().GetString("type")
		tags, _ := cmd.Flags().GetString("tags")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"name":    args[0],
			"email":   email,
			"company": company,
			"tags":    splitTags(tags),
		}
		if typ != "" {
			req["type"] = typ
		}

		resp, err := client.post(cmd.Context(), "/customers", req)
		if err != nil {
			return err
		}

		var created storage.Customer
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created customer %s (%s)", created.Name, created.ID)
		return nil
	},
}

func init() {
	customersListCmd.Flags().Int("limit", 50, "maximum number of customers to list")
	customersListCmd.Flags().Int("offset", 0, "number of customers to skip")
	customersAddCmd.Flags().String("email", "", "contact email")
	customersAddCmd.Flags().String("company", "", "company name")
	customersAddCmd.Flags().String("type", "", "enterprise, business or startup")
	customersAddCmd.Flags().String("tags", "", "comma-separated tags")
	customersCmd.AddCommand(customersListCmd, customersShowCmd, customersAddCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Manage a customer's interaction history",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list <customer-id>",
	Short: "List recent interactions for a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/customers/%s/interactions?limit=%d", url.PathEscape(args[0]), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var interactions []storage.Interaction
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}
		if len(interactions) == 0 {
			fmt.Fprintln(stdout, "No interactions found.")
			return nil
		}

		rows := make([][]string, 0, len(interactions))
		for _, ix := range interactions {
			summary := ix.Summary
			if ix.AISummary != "" {
				summary = ix.AISummary
			}
			rows = append(rows, []string{
				ix.ID,
				ix.OccurredAt.Format(time.DateOnly),
				string(ix.Type),
				truncate(summary, 80),
			})
		}
		printRows(rows)
		return nil
	},
}

var interactionsAddCmd = &cobra.Command{
	Use:   "add <customer-id>",
	Short: "Log an interaction with a customer",
	Long: `Log an interaction with a customer. Details, when given, are summarized
in the background if the assistant is configured.

Examples:
  crmpilot interactions add c-123 --type call --summary "Intro call"
  crmpilot interactions add c-123 --type meeting --summary "Demo" --details "..."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		summary, _ := cmd.Flags().GetString("summary")
		details, _ := cmd.Flags().GetString("details")

		if strings.TrimSpace(summary) == "" {
			return fmt.Errorf("--summary is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"type": typ, "summary": summary, "details": details}
		resp, err := client.post(cmd.Context(), "/customers/"+url.PathEscape(args[0])+"/interactions", req)
		if err != nil {
			return err
		}

		var created storage.Interaction
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Logged %s %s", created.Type, created.ID)
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsAddCmd.Flags().String("type", "note", "call, email, meeting or note")
	interactionsAddCmd.Flags().String("summary", "", "one-line summary")
	interactionsAddCmd.Flags().String("details", "", "full notes")
	interactionsCmd.AddCommand(interactionsListCmd, interactionsAddCmd)
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage follow-up tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if status != "" {
			q.Set("status", status)
		}
		resp, err := client.get(cmd.Context(), "/tasks?"+q.Encode())
		if err != nil {
			return err
		}

		var tasks []storage.Task
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(stdout, "No tasks found.")
			return nil
		}

		rows := make([][]string, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, []string{
				t.ID,
				t.DueAt.Format(time.DateOnly),
				string(t.Priority),
				string(t.Status),
				truncate(t.Title, 60),
			})
		}
		printRows(rows)
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, _ := cmd.Flags().GetString("due")
		customerID, _ := cmd.Flags().GetString("customer")
		priority, _ := cmd.Flags().GetString("priority")
		description, _ := cmd.Flags().GetString("description")

		dueAt, err := parseDue(due, time.Now())
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"title":       args[0],
			"description": description,
			"due_at":      dueAt,
			"customer_id": customerID,
		}
		if priority != "" {
			req["priority"] = priority
		}

		resp, err := client.post(cmd.Context(), "/tasks", req)
		if err != nil {
			return err
		}

		var created storage.Task
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created task %s due %s", created.ID, created.DueAt.Format(time.DateOnly))
		return nil
	},
}

var tasksSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Change a task's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/tasks/"+url.PathEscape(args[0]), map[string]string{"status": args[1]})
		if err != nil {
			return err
		}

		var updated storage.Task
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}
		printSuccess("Task %s is now %s", updated.ID, updated.Status)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().String("status", "", "filter by status (todo, in_progress, review, done)")
	tasksListCmd.Flags().Int("limit", 50, "maximum number of tasks to list")
	tasksAddCmd.Flags().String("due", "", "due date (YYYY-MM-DD, RFC 3339, or a duration such as 72h)")
	tasksAddCmd.Flags().String("customer", "", "customer id the task belongs to")
	tasksAddCmd.Flags().String("priority", "", "low, medium or high")
	tasksAddCmd.Flags().String("description", "", "task description")
	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksSetStatusCmd)
}

// parseDue accepts a date, an RFC 3339 timestamp, or a duration from now.
func parseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("--due is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --due %q", s)
}

func splitTags(s string) []string {
	tags := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage local sessions",
}

var sessionIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a session token for a user (auth.mode=local only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Auth.Mode != "local" {
			return fmt.Errorf("sessions are issued by %s when auth.mode=%s", cfg.Auth.URL, cfg.Auth.Mode)
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		token, expires, err := auth.IssueToken(cmd.Context(), store, userID, ttl)
		if err != nil {
			return err
		}

		fmt.Fprintln(stdout, token)
		printSuccess("Session for %s expires %s", userID, expires.Local().Format(time.RFC3339))
		printStep("Export it as CRMPILOT_TOKEN for the other commands")
		return nil
	},
}

func init() {
	sessionIssueCmd.Flags().String("user", "", "user id the session belongs to")
	sessionIssueCmd.Flags().Duration("ttl", 30*24*time.Hour, "session lifetime")
	sessionCmd.AddCommand(sessionIssueCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
