package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// Set with -ldflags "-X main.version=... -X main.gitCommit=... -X main.buildDate=...".
var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: dropwatch version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("dropwatch %s\ncommit: %s\nbuilt_at: %s\n", info.Version, info.Commit, info.BuildTime)
	return 0
}

// currentVersionInfo prefers linker-set values and falls back to the VCS
// stamp the go tool embeds.
func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   firstKnown(version, "0.0.0-dev"),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	settings := buildSettings()
	if commit := firstKnown(gitCommit, settings["vcs.revision"]); commit != "" {
		info.Commit = commit[:min(len(commit), 12)]
	}
	if raw := firstKnown(buildDate, settings["vcs.time"]); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			info.BuildTime = t.UTC().Format(time.RFC3339)
		}
	}
	return info
}

// firstKnown returns the first value that is neither blank nor "unknown".
func firstKnown(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && v != "unknown" {
			return v
		}
	}
	return ""
}

func buildSettings() map[string]string {
	out := map[string]string{}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			out[s.Key] = s.Value
		}
	}
	return out
}
