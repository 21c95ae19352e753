// Calctl is the command-line client for querying and controlling a running
// calibd instance. It connects over HTTP and WebSocket to inspect the
// calibration stores, run lookups, and stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/calibration-engine/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Calibration daemon URL (e.g. http://10.0.0.5:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter provenance,log)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --orbit are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Daemon commands ───────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "config-list":
		err = ctl.ConfigList(*host, *jsonOut)

	case "session":
		err = ctl.Session(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (debug, info, warn, error)")
		logFlags.StringVar(&opts.Component, "component", "", "Filter by component (calibd, engine, demo)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	case "reload":
		opts := ctl.ReloadOptions{JSON: *jsonOut}
		reloadFlags := pflag.NewFlagSet("reload", pflag.ContinueOnError)
		reloadFlags.StringVar(&opts.Profile, "profile", "", "Switch to a named config profile")
		_ = reloadFlags.Parse(subArgs)
		err = ctl.Reload(*host, opts)

	// ── Calibration queries ───────────────────────────────────────
	case "kinds":
		err = ctl.Kinds(*host, *jsonOut)

	case "index":
		opts := ctl.IndexOptions{JSON: *jsonOut}
		idxFlags := pflag.NewFlagSet("index", pflag.ContinueOnError)
		idxFlags.StringVar(&opts.Kind, "kind", "", "Calibration kind (e.g. fitted-dark)")
		idxFlags.StringVar(&opts.Version, "version", "", "Store version (v1, v2, v3)")
		idxFlags.IntVar(&opts.From, "from", 0, "First orbit shown")
		idxFlags.IntVar(&opts.To, "to", 0, "Last orbit shown")
		_ = idxFlags.Parse(subArgs)
		if opts.Kind == "" && idxFlags.NArg() > 0 {
			opts.Kind = idxFlags.Arg(0)
		}
		err = ctl.Index(*host, opts)

	case "lookup":
		opts := ctl.LookupOptions{JSON: *jsonOut}
		lookupFlags := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
		lookupFlags.StringVar(&opts.Kind, "kind", "", "Calibration kind (e.g. transmission)")
		lookupFlags.IntVar(&opts.Orbit, "orbit", 0, "Orbit number of the observation")
		lookupFlags.IntVar(&opts.Channel, "channel", 0, "Restrict to one channel (1-8); 0 is the whole detector")
		lookupFlags.Float64Var(&opts.Phase, "phase", 0, "Orbit phase in [0,1) for orbital darks")
		lookupFlags.StringVar(&opts.Out, "out", "", "Export the vectors to a Parquet file")
		_ = lookupFlags.Parse(subArgs)
		if opts.Kind == "" && lookupFlags.NArg() > 0 {
			opts.Kind = lookupFlags.Arg(0)
		}
		opts.HasPhase = lookupFlags.Changed("phase")
		err = ctl.Lookup(*host, opts)

	case "dark":
		opts := ctl.DarkOptions{JSON: *jsonOut}
		darkFlags := pflag.NewFlagSet("dark", pflag.ContinueOnError)
		darkFlags.IntVar(&opts.Orbit, "orbit", 0, "Orbit number of the observation")
		darkFlags.Float64Var(&opts.Phase, "phase", 0, "Orbit phase in [0,1)")
		_ = darkFlags.Parse(subArgs)
		opts.HasPhase = darkFlags.Changed("phase")
		err = ctl.Dark(*host, opts)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{JSON: *jsonOut}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Filter, "filter", *filter, "Event types to show")
		_ = watchFlags.Parse(subArgs)
		err = ctl.Watch(*host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  calctl - Calibration Engine control CLI

  USAGE
    calctl [flags] <command> [command-flags]

  COMMANDS (daemon)
    status          Show daemon state, uptime, and lookup counters
    health          Check daemon and store health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    config-list     List available config profiles
    session         Show session cache statistics
    logs            Show recent daemon log messages
    reload          Reload configuration and start a fresh session

  COMMANDS (calibration)
    kinds           List calibration kinds and their selection settings
    index           List the orbit index of a kind in one store
    lookup          Retrieve the best record of a kind for an orbit
    dark            Retrieve the combined dark signal for an orbit

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    index:
        --kind KIND         Calibration kind
        --version V         Store version (v1, v2, v3)
        --from N            First orbit shown
        --to N              Last orbit shown

    lookup:
        --kind KIND         Calibration kind
        --orbit N           Orbit number of the observation
        --channel N         Restrict to one channel (1-8)
        --phase P           Orbit phase in [0,1)
        --out FILE          Export the vectors to a Parquet file

    dark:
        --orbit N           Orbit number of the observation
        --phase P           Orbit phase in [0,1)

    logs:
        --level LEVEL       Filter by log level (debug, info, warn, error)
        --component NAME    Filter by component (calibd, engine, demo)
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

    reload:
        --profile NAME      Switch to a named config profile

  EXAMPLES
    calctl status
    calctl --json status
    calctl kinds
    calctl index --kind fitted-dark --version v3 --from 10000 --to 10020
    calctl lookup --kind transmission --orbit 10012 --channel 6
    calctl lookup --kind orbital-dark --orbit 10005 --phase 0.42
    calctl lookup --kind fitted-dark --orbit 10012 --out dark.parquet
    calctl dark --orbit 10012 --phase 0.1
    calctl session
    calctl logs --component engine --level warn --limit 20
    calctl logs --tail
    calctl reload --profile archive
    calctl --host http://10.0.0.5:8080 watch --filter provenance,log

`)
}
