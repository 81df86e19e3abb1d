// Command duplexd is the CLI entrypoint (spec §6): it parses the
// listen addresses, wires up the public and admin engines with their
// respective callbacks, and runs the supervisor until shutdown.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "duplexd",
		Short:         "duplexd is a channel-actor TCP/WebSocket relay",
		SilenceUsage:  false,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve <ip> <port> [admin_port]",
		Short: "Start the public relay, and optionally a parallel admin relay",
		Long: `Start the public relay on <ip>:<port>.

With three arguments, a second "admin" relay is also started on
<ip>:<admin_port>; an admin-relay ShutdownServer command stops both
engines together. With two arguments, only the public relay runs.`,
		Example: `  duplexd serve 0.0.0.0 8080
  duplexd serve 0.0.0.0 8080 8081`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args)
		},
	}
	return cmd
}

func runServe(args []string) error {
	ip := args[0]
	port, err := parsePort(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	cfg := serveConfig{ip: ip, port: port}
	if len(args) == 3 {
		adminPort, err := parsePort(args[2])
		if err != nil {
			return fmt.Errorf("invalid admin_port %q: %w", args[2], err)
		}
		cfg.adminPort = &adminPort
	}

	return run(cfg)
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("out of range")
	}
	return port, nil
}
