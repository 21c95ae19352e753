package ctl

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/calibration-engine/internal/telemetry"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// watchURL maps the daemon's HTTP base URL onto its WebSocket endpoint,
// subscribing to the filtered event types only.
func watchURL(baseURL string, filter []string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	if len(filter) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(filter, ",")}}.Encode()
	}
	return u.String(), nil
}

// Watch connects to the daemon's WebSocket endpoint and streams events to
// the terminal until interrupted or the daemon goes away.
func Watch(baseURL string, opts WatchOptions) error {
	target, err := watchURL(baseURL, opts.Filter)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, target))
		if len(opts.Filter) > 0 {
			fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Println(rule(50))
		fmt.Println()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev telemetry.Event
			if err := json.Unmarshal(msg, &ev); err == nil && !wanted(opts.Filter, ev.Type) {
				continue
			}
			if opts.JSON {
				fmt.Println(string(msg))
				continue
			}
			renderEvent(ev.Type, msg)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

func wanted(filter []string, t telemetry.EventType) bool {
	return len(filter) == 0 || slices.Contains(filter, string(t))
}

// renderEvent prints one event in a human-friendly format. Types it does
// not know are dumped as indented JSON.
func renderEvent(t telemetry.EventType, raw []byte) {
	var line string
	var err error
	switch t {
	case telemetry.EventHeartbeat:
		var ev telemetry.Heartbeat
		if err = json.Unmarshal(raw, &ev); err == nil {
			line = fmt.Sprintf("%s  %s  up %s  %s lookups",
				colorize(dim, "heartbeat"),
				colorize(stateColor(ev.State), ev.State),
				colorize(dim, formatDuration(time.Duration(ev.UptimeSeconds)*time.Second)),
				colorize(dim, formatCount(ev.Lookups)),
			)
			line = stamp(ev.Event, line)
		}

	case telemetry.EventState:
		var ev telemetry.StateTransition
		if err = json.Unmarshal(raw, &ev); err == nil {
			line = stamp(ev.Event, fmt.Sprintf("%s  %s %s %s",
				colorize(bold, "STATE"),
				colorize(stateColor(ev.From), ev.From),
				colorize(dim, "->"),
				colorize(stateColor(ev.To), ev.To),
			))
		}

	case telemetry.EventLog:
		var ev telemetry.LogLine
		if err = json.Unmarshal(raw, &ev); err == nil {
			src := ""
			if ev.Component != "" {
				src = colorize(dim, "["+ev.Component+"] ")
			}
			line = stamp(ev.Event, formatLogLevel(ev.Level)+"  "+src+ev.Message)
		}

	case telemetry.EventProgress:
		var ev telemetry.Progress
		if err = json.Unmarshal(raw, &ev); err == nil {
			line = stamp(ev.Event, fmt.Sprintf("%s  [%s] %3.0f%%  %s",
				colorize(cyan, padRight(ev.Stage, 10)),
				progressBar(int(ev.Percent), 20),
				ev.Percent,
				colorize(dim, ev.Detail),
			))
		}

	case telemetry.EventProvenance:
		var ev telemetry.Provenance
		if err = json.Unmarshal(raw, &ev); err == nil {
			line = stamp(ev.Event, provenanceLine(ev))
		}

	case telemetry.EventReload:
		var ev telemetry.LogLine
		if err = json.Unmarshal(raw, &ev); err == nil {
			line = "\n" + stamp(ev.Event, header("RELOAD")+"  "+ev.Message) + "\n"
		}

	default:
		var v any
		if err = json.Unmarshal(raw, &v); err == nil {
			pretty, _ := json.MarshalIndent(v, "  ", "  ")
			line = "  " + string(pretty)
		}
	}
	if err != nil {
		line = "  " + string(raw)
	}
	fmt.Println(line)
}

func provenanceLine(ev telemetry.Provenance) string {
	if ev.Absent {
		return fmt.Sprintf("%s  %s  orbit %d  %s",
			colorize(yellow, "ABSENT"),
			padRight(ev.Kind, 18),
			ev.Orbit,
			colorize(dim, "no applicable data"),
		)
	}
	return fmt.Sprintf("%s  %s  orbit %d  %s",
		colorize(blue, "LOOKUP"),
		padRight(ev.Kind, 18),
		ev.Orbit,
		colorize(dim, fmt.Sprintf("%s orbit %d q%d", ev.Version, ev.FoundOrbit, ev.Quality)),
	)
}

// stamp prefixes a rendered line with the event's local wall-clock time.
func stamp(ev telemetry.Event, line string) string {
	ts := "        "
	if t, err := time.Parse(time.RFC3339Nano, ev.TS); err == nil {
		ts = t.Local().Format("15:04:05")
	}
	return "  " + colorize(dim, ts) + " " + line
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return colorize(dim, "DEBUG")
	case "info":
		return colorize(green, "INFO ")
	case "warn":
		return colorize(yellow, "WARN ")
	case "error":
		return colorize(red, "ERROR")
	default:
		return padRight(level, 5)
	}
}
