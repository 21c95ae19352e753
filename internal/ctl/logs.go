package ctl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level     string
	Component string // calibd, engine or demo; empty shows all
	Limit     int
	Tail      bool
	JSON      bool
}

type logLine struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component"`
}

// Logs shows recent daemon log messages, or streams them live with --tail.
func Logs(baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	// --tail mode: use WebSocket watch with log filter.
	if opts.Tail {
		return Watch(baseURL, WatchOptions{
			Filter: []string{"log"},
			JSON:   opts.JSON,
		})
	}

	q := url.Values{}
	if opts.Level != "" {
		q.Set("level", opts.Level)
	}
	// The component filter runs here, so the limit is applied after it.
	if opts.Limit > 0 && opts.Component == "" {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Logs []logLine `json:"logs"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}
	resp.Logs = filterLogs(resp.Logs, opts.Component, opts.Limit)

	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON LOGS"))
	fmt.Println(rule(70))

	if len(resp.Logs) == 0 {
		fmt.Println("  No log entries found.")
	}
	for _, entry := range resp.Logs {
		ts := entry.TS
		if t, err := time.Parse(time.RFC3339Nano, entry.TS); err == nil {
			ts = t.Local().Format("15:04:05")
		}
		fmt.Printf("  %s %s  %s %s\n",
			ts,
			formatLogLevel(entry.Level),
			colorize(dim, "["+entry.Component+"]"),
			entry.Message,
		)
	}

	fmt.Println()
	return nil
}

func filterLogs(logs []logLine, component string, limit int) []logLine {
	if component == "" {
		return logs
	}
	var out []logLine
	for _, l := range logs {
		if l.Component == component {
			out = append(out, l)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}
