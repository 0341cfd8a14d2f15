package cli

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/MaciWP/treeflow/internal/config"
	"github.com/MaciWP/treeflow/internal/daemon"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		repoDir        string
		port           int
		foreground     bool
		dev            bool
		pprofAddr      string
		runtimeKind    string
		subprocessCmd  string
		subprocessArgs []string
		sandbox        bool
		dbDriver       string
		dbURL          string
		enableOtel     bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Treeflow daemon for a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoDir == "" {
				return errors.New("--repo is required")
			}
			home := config.MustHomeFrom(cmd.Context())

			opts := daemon.StartOptions{
				Home:           home,
				RepoDir:        repoDir,
				Port:           port,
				Dev:            dev,
				PprofAddr:      pprofAddr,
				Runtime:        runtimeKind,
				SubprocessCmd:  subprocessCmd,
				SubprocessArgs: subprocessArgs,
				Sandbox:        sandbox,
				DBDriver:       dbDriver,
				DBURL:          dbURL,
				EnableOtel:     enableOtel,
			}

			api := (&url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", port)}).String()

			if foreground {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Starting Treeflow in foreground on %s\n", api)
				return daemon.StartForeground(cmd.Context(), opts)
			}

			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Treeflow started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", "", "Path to the managed git repository (required)")
	cmd.Flags().IntVar(&port, "port", 4617, "Port for the HTTP API")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (do not daemonize)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Agent runtime: stub or subprocess")
	cmd.Flags().StringVar(&subprocessCmd, "agent-cmd", "", "Command for subprocess runtime (e.g. claude)")
	cmd.Flags().StringArrayVar(&subprocessArgs, "agent-arg", nil, "Extra arg for subprocess runtime (repeatable)")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "Run agent subprocesses inside bubblewrap (Linux only)")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string (for postgres; or set DATABASE_URL)")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter)")

	return cmd
}
