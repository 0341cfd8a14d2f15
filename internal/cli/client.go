package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/MaciWP/treeflow/internal/config"
	"github.com/MaciWP/treeflow/internal/daemon"
	"github.com/MaciWP/treeflow/pkg/client"
	"github.com/spf13/cobra"
)

// apiClient builds a client for the running daemon. An explicit --addr wins;
// otherwise the daemon's recorded listen address is used.
func apiClient(cmd *cobra.Command, addrOverride string) (*client.Client, error) {
	base := addrOverride
	if base == "" {
		home := config.MustHomeFrom(cmd.Context())
		st, err := daemon.Status(cmd.Context(), home)
		if err != nil {
			return nil, err
		}
		if !st.Running {
			return nil, errors.New("treeflow is not running (start it with 'treeflow start')")
		}
		base = st.Addr
	}
	if !strings.Contains(base, "://") {
		// Addr files record the bind address; 0.0.0.0 is not dialable.
		if host, port, err := net.SplitHostPort(base); err == nil {
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "localhost"
			}
			base = fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
		} else {
			base = "http://" + base
		}
	}
	return client.New(base, os.Getenv("TREEFLOW_API_KEY")), nil
}
