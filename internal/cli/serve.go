package cli

import (
	"github.com/MaciWP/treeflow/internal/config"
	"github.com/MaciWP/treeflow/internal/daemon"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		repoDir        string
		port           int
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
		Use:    "serve",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
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
			})
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", "", "Path to the managed git repository")
	cmd.Flags().IntVar(&port, "port", 4617, "Port for the HTTP API")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Agent runtime: stub or subprocess")
	cmd.Flags().StringVar(&subprocessCmd, "agent-cmd", "", "Command for subprocess runtime")
	cmd.Flags().StringArrayVar(&subprocessArgs, "agent-arg", nil, "Extra arg for subprocess runtime (repeatable)")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "Run agent subprocesses inside bubblewrap")
	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite", "Store driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "DB connection string")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics")

	return cmd
}
