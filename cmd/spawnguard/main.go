package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/basket/spawnguard/internal/shared"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

CHECK COMMANDS (invoked by the orchestrator around spawn/tool events):
  %s guard                    Loop-prevention check for a spawn event
                              Reads one JSON event on stdin; exit 2 = deny
  %s release                  Decrement spawn depth when a spawned unit finishes
  %s anomaly                  Statistical anomaly check for a tool event
                              Always exits 0; findings go to the anomaly log
  %s reroute                  Advisory rerouting check for a tool event
                              Always exits 0; prints suggestion lines

MAINTENANCE:
  %s reset [guard|anomaly|reroute|all]
                              Discard persisted engine state (default: all)
  %s doctor [-json]           Run diagnostic checks
                              Flags: -json for JSON output

ENVIRONMENT VARIABLES:
  SPAWNGUARD_HOME             Data directory (default: ~/.spawnguard)
  SPAWNGUARD_MODE             Enforcement mode: block | warn | off
  SPAWNGUARD_FAIL_OPEN        Allow on internal guard failure (audited)
  SPAWNGUARD_DEBUG            Mirror logs to stderr

EXAMPLES:
  Spawn check:                echo '{"tool_name":"Task"}' | %s guard
  Tool post-check:            echo '{"tool":"Bash","error":"boom"}' | %s anomaly
  Run diagnostics:            %s doctor
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "guard":
		os.Exit(runGuardCommand(ctx, args[1:]))
	case "release":
		os.Exit(runReleaseCommand(ctx, args[1:]))
	case "reset":
		os.Exit(runResetCommand(ctx, args[1:]))
	case "anomaly":
		os.Exit(runAnomalyCommand(ctx, args[1:]))
	case "reroute":
		os.Exit(runRerouteCommand(ctx, args[1:]))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
