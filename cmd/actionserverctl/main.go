// actionserverctl is a thin HTTP client CLI for the action server's REST
// API: running actions ad hoc, inspecting runs, and administering
// schedules/triggers/work-items from the command line.
//
// Usage:
//
//	actionserverctl run <package> <action> [json-inputs]
//	actionserverctl runs [--action <id>]
//	actionserverctl run-status <id>
//	actionserverctl schedules
//	actionserverctl schedules delete <id>
//	actionserverctl triggers
//	actionserverctl work-items --queue <name> [--state <state>]
//	actionserverctl work-items stats --queue <name>
//	actionserverctl work-items requeue <id>
//	actionserverctl version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultServer = "http://localhost:8080"

type cliConfig struct {
	server     string
	apiKey     string
	jsonOutput bool
}

var errShowUsage = errors.New("show usage")

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}
	if command == "" {
		printUsage()
		os.Exit(1)
	}

	client := NewAPIClient(cfg.server, cfg.apiKey)
	ctx := context.Background()

	switch command {
	case "run":
		err = runRunAction(ctx, client, cfg, args)
	case "runs":
		err = runListRuns(ctx, client, cfg, args)
	case "run-status":
		err = runGetRun(ctx, client, cfg, args)
	case "schedules":
		err = runSchedules(ctx, client, cfg, args)
	case "triggers":
		err = runTriggers(ctx, client, cfg, args)
	case "work-items":
		err = runWorkItems(ctx, client, cfg, args)
	case "version":
		fmt.Printf("actionserverctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{
		server: defaultServer,
		apiKey: os.Getenv("ACTION_SERVER_API_KEY"),
	}
	if v := os.Getenv("ACTION_SERVER_URL"); v != "" {
		cfg.server = v
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--server", "-s":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--server requires a value")
			}
			cfg.server = args[idx+1]
			idx += 2
		case "--api-key":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--api-key requires a value")
			}
			cfg.apiKey = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}
	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: actionserverctl [--server <url>] [--api-key <key>] [--json] <command>

Commands:
  run <package> <action> [json]   Invoke an action and print its result
  runs [--action <id>]            List recent runs
  run-status <id>                 Show one run's status and result
  schedules                       List schedules
  schedules delete <id>           Delete a schedule
  triggers                        List triggers
  work-items --queue <name>       List work items in a queue
  work-items stats --queue <name> Show queue pending/in-progress/done/failed counts
  work-items requeue <id>         Move a FAILED work item back to PENDING
  version                         Print version info
`)
}

func runRunAction(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: actionserverctl run <package> <action> [json-inputs]")
	}
	pkg, action := args[0], args[1]
	inputs := json.RawMessage("{}")
	if len(args) > 2 {
		inputs = json.RawMessage(strings.Join(args[2:], " "))
	}

	result, runID, err := client.RunAction(ctx, pkg, action, inputs)
	if runID != "" {
		fmt.Fprintf(os.Stderr, "run id: %s\n", runID)
	}
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		var v any
		if json.Unmarshal(result, &v) == nil {
			return PrintJSON(os.Stdout, v)
		}
	}
	fmt.Println(string(result))
	return nil
}

func runListRuns(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	actionID := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--action" && i+1 < len(args) {
			actionID = args[i+1]
			i++
		}
	}

	runs, err := client.ListRuns(ctx, actionID)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, runs)
	}

	headers := []string{"NUMBER", "ID", "STATUS", "ACTION", "STARTED", "REQUEST ID"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.NumberedID, 10),
			Truncate(r.ID, 18),
			ColorRunStatus(r.Status),
			Truncate(r.ActionID, 18),
			FormatTimeOrDash(r.StartTime),
			r.RequestID,
		})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}

func runGetRun(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: actionserverctl run-status <id>")
	}
	run, err := client.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, run)
	}
	headers := []string{"ID", "STATUS", "ACTION", "STARTED"}
	RenderTable(os.Stdout, headers, [][]string{{
		run.ID, ColorRunStatus(run.Status), run.ActionID, FormatTimeOrDash(run.StartTime),
	}})
	return nil
}

func runSchedules(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) >= 1 && args[0] == "delete" {
		if len(args) != 2 {
			return fmt.Errorf("usage: actionserverctl schedules delete <id>")
		}
		return client.DeleteSchedule(ctx, args[1])
	}
	if len(args) != 0 {
		return fmt.Errorf("usage: actionserverctl schedules")
	}

	scs, err := client.ListSchedules(ctx)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, scs)
	}

	headers := []string{"ID", "NAME", "ENABLED", "ACTION", "NEXT RUN"}
	rows := make([][]string, 0, len(scs))
	for _, sc := range scs {
		nextRun := "-"
		if sc.NextRunAt.Valid {
			nextRun = FormatTimeOrDash(sc.NextRunAt.Time)
		}
		rows = append(rows, []string{
			Truncate(sc.ID, 18), sc.Name, strconv.FormatBool(sc.Enabled), Truncate(sc.ActionID, 18), nextRun,
		})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}

func runTriggers(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: actionserverctl triggers")
	}
	trigs, err := client.ListTriggers(ctx)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, trigs)
	}

	headers := []string{"ID", "NAME", "ENABLED", "ACTION", "FIRED"}
	rows := make([][]string, 0, len(trigs))
	for _, t := range trigs {
		rows = append(rows, []string{
			Truncate(t.ID, 18), t.Name, strconv.FormatBool(t.Enabled), Truncate(t.ActionID, 18),
			strconv.FormatInt(t.TriggerCount, 10),
		})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}

func runWorkItems(ctx context.Context, client *APIClient, cfg cliConfig, args []string) error {
	if len(args) >= 1 && args[0] == "stats" {
		queue := flagValue(args[1:], "--queue")
		if queue == "" {
			return fmt.Errorf("usage: actionserverctl work-items stats --queue <name>")
		}
		stats, err := client.QueueStats(ctx, queue)
		if err != nil {
			return err
		}
		if cfg.jsonOutput {
			return PrintJSON(os.Stdout, stats)
		}
		headers := []string{"QUEUE", "PENDING", "IN PROGRESS", "DONE", "FAILED"}
		RenderTable(os.Stdout, headers, [][]string{{
			stats.QueueName,
			strconv.Itoa(stats.Pending), strconv.Itoa(stats.InProgress),
			strconv.Itoa(stats.Done), strconv.Itoa(stats.Failed),
		}})
		return nil
	}
	if len(args) >= 1 && args[0] == "requeue" {
		if len(args) != 2 {
			return fmt.Errorf("usage: actionserverctl work-items requeue <id>")
		}
		return client.RequeueWorkItem(ctx, args[1])
	}

	queue := flagValue(args, "--queue")
	state := flagValue(args, "--state")
	items, err := client.ListWorkItems(ctx, queue, state)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return PrintJSON(os.Stdout, items)
	}
	headers := []string{"ID", "QUEUE", "STATE", "ATTEMPTS"}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			Truncate(it.ID, 18), it.QueueName, ColorRunStatus(it.State), strconv.Itoa(it.Attempts),
		})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}

func flagValue(args []string, name string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
