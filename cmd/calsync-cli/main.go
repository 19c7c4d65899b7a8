// Command calsync-cli is an operator tool for a running calsync
// daemon: list cached events, trigger syncs, and manage manual entries
// over the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/practicehub/calsync/internal/apiclient"
	"github.com/practicehub/calsync/internal/calsync"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("CALSYNC_BASE_URL", "http://127.0.0.1:8080"), "calsync base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("CALSYNC_TOKEN")), "write token for mutating commands")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := apiclient.New(*baseURL, *token, &http.Client{Timeout: *timeout})
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch args[0] {
	case "events":
		err = runEvents(ctx, client, args[1:])
	case "sync":
		err = runSync(ctx, client, args[1:])
	case "status":
		err = runStatus(ctx, client)
	case "create":
		err = runCreate(ctx, client, args[1:])
	case "patch":
		err = runPatch(ctx, client, args[1:])
	case "delete":
		err = runDelete(ctx, client, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: calsync-cli [flags] <command> [args]

commands:
  events --start <rfc3339> --end <rfc3339>    list cached events in a range
  sync   --start <rfc3339> --end <rfc3339>    trigger a sync cycle
  status                                      show pipeline state and last-synced times
  create --title T --start <rfc3339> --end <rfc3339> [--description D] [--location L]
                                              create a manual event
  patch  --source S --id ID [--title T] [--description D] [--location L] [--note N] [--action A]
                                              patch an event's editable fields
  delete --id ID                              delete a manual event

flags:
`)
	flag.PrintDefaults()
}

// parseRangeArgs handles the shared --start/--end pair, defaulting to
// the next two weeks when both are omitted.
func parseRangeArgs(name string, args []string) (time.Time, time.Time, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	startRaw := fs.String("start", "", "range start (RFC3339)")
	endRaw := fs.String("end", "", "range end (RFC3339)")
	if err := fs.Parse(args); err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	if *startRaw == "" && *endRaw == "" {
		now := time.Now().UTC().Truncate(24 * time.Hour)
		return now, now.AddDate(0, 0, 14), fs.Args(), nil
	}
	start, err := time.Parse(time.RFC3339, *startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, *endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("invalid --end: %w", err)
	}
	return start, end, fs.Args(), nil
}

func runEvents(ctx context.Context, client *apiclient.Client, args []string) error {
	start, end, _, err := parseRangeArgs("events", args)
	if err != nil {
		return err
	}
	events, err := client.ListEvents(ctx, start, end)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no events in range")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  %s..%s  [%s]  %s\n",
			e.Key(), e.StartTime.Format(time.RFC3339), e.EndTime.Format(time.RFC3339),
			e.Source, e.Title)
	}
	return nil
}

func runSync(ctx context.Context, client *apiclient.Client, args []string) error {
	start, end, _, err := parseRangeArgs("sync", args)
	if err != nil {
		return err
	}
	result, err := client.TriggerSync(ctx, start, end)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runStatus(ctx context.Context, client *apiclient.Client) error {
	status, err := client.GetSyncStatus(ctx)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runCreate(ctx context.Context, client *apiclient.Client, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	title := fs.String("title", "", "event title")
	description := fs.String("description", "", "event description")
	location := fs.String("location", "", "event location")
	startRaw := fs.String("start", "", "start time (RFC3339)")
	endRaw := fs.String("end", "", "end time (RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, *startRaw)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, *endRaw)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	created, err := client.CreateManualEvent(ctx, calsync.Event{
		Title:       *title,
		Description: *description,
		Location:    *location,
		StartTime:   start,
		EndTime:     end,
	})
	if err != nil {
		return err
	}
	return printJSON(created)
}

func runPatch(ctx context.Context, client *apiclient.Client, args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	source := fs.String("source", string(calsync.SourceManual), "event source")
	id := fs.String("id", "", "event ID")
	title := fs.String("title", "", "new title")
	description := fs.String("description", "", "new description")
	location := fs.String("location", "", "new location")
	note := fs.String("note", "", "note to set")
	action := fs.String("action", "", "action item to set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	var patch calsync.EventPatch
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if setFlags["title"] {
		patch.Title = title
	}
	if setFlags["description"] {
		patch.Description = description
	}
	if setFlags["location"] {
		patch.Location = location
	}
	if setFlags["note"] {
		notes := []string{*note}
		patch.Notes = &notes
	}
	if setFlags["action"] {
		actions := []string{*action}
		patch.ActionItems = &actions
	}

	updated, err := client.PatchEvent(ctx, calsync.Source(*source), *id, patch)
	if err != nil {
		return err
	}
	return printJSON(updated)
}

func runDelete(ctx context.Context, client *apiclient.Client, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "manual event ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	if err := client.DeleteManualEvent(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("deleted manual/%s\n", *id)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
