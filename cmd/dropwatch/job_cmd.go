package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/dropwatch/internal/descriptor"
	"github.com/mattjoyce/dropwatch/internal/inspect"
	"github.com/mattjoyce/dropwatch/internal/joblog"
	"github.com/mattjoyce/dropwatch/internal/launch"
	"github.com/mattjoyce/dropwatch/internal/log"
	"github.com/mattjoyce/dropwatch/internal/storage"
	"github.com/mattjoyce/dropwatch/internal/trigger"
	"github.com/mattjoyce/dropwatch/internal/watch"
)

// parseReadTimeout bounds how long `job parse` waits for a writer to finish.
const parseReadTimeout = 30 * time.Second

type parseResult struct {
	Path       string                `json:"path"`
	JobID      string                `json:"job_id"`
	Descriptor descriptor.Descriptor `json:"descriptor"`
	ArgString  string                `json:"arg_string"`
	Marker     string                `json:"marker"`
	LaunchArgs []string              `json:"launch_args"`
}

func runJobParse(args []string) int {
	// Accept the file before or after flags.
	var file string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		file = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	suffix := fs.String("suffix", trigger.DefaultMarkerSuffix, "Completion marker suffix")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if file == "" && fs.NArg() == 1 {
		file = fs.Arg(0)
	}
	if file == "" || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: dropwatch job parse <file> [--json] [--suffix SUFFIX]")
		return 1
	}

	tr, err := trigger.Parse(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.SetupWithOptions(log.Options{Level: "warn", Stdout: os.Stderr})
	ctx, cancel := context.WithTimeout(context.Background(), parseReadTimeout)
	defer cancel()

	content, err := watch.NewReader(log.WithComponent("reader")).ReadWhenReady(ctx, tr.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 1
	}

	d, err := descriptor.Parse(content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	res := parseResult{
		Path:       tr.Path,
		JobID:      tr.ID.String(),
		Descriptor: d,
		ArgString:  d.ArgString(),
		Marker:     trigger.MarkerName(tr.ID, *suffix),
		LaunchArgs: launch.Args(d, tr.ID),
	}

	if *jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Job ID      : %s\n", res.JobID)
	fmt.Printf("Job name    : %s\n", d.JobName)
	for _, a := range d.Args {
		fmt.Printf("  %s = %s\n", a.Key, a.Value)
	}
	fmt.Printf("Marker      : %s\n", res.Marker)
	quoted := make([]string, len(res.LaunchArgs))
	for i, a := range res.LaunchArgs {
		quoted[i] = strconv.Quote(a)
	}
	fmt.Printf("Launch args : %s\n", strings.Join(quoted, " "))
	return 0
}

func runInspect(args []string) int {
	// Handle positional job ID before flags so `job inspect <id> --json` works.
	var jobID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		jobID = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jobID == "" && fs.NArg() == 1 {
		jobID = fs.Arg(0)
	}
	if jobID == "" || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: dropwatch job inspect <job_id> [--config PATH] [--json]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	history := joblog.New(db)
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, history, cfg.Output.Dir, jobID)
	} else {
		out, err = inspect.BuildReport(ctx, history, cfg.Output.Dir, jobID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(out)
	return 0
}
