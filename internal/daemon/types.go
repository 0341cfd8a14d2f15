package daemon

// StartOptions configures the daemon (home, repo, port, agent runtime, DB, metrics).
type StartOptions struct {
	Home           string
	RepoDir        string // root of the managed git repository
	Port           int
	Dev            bool
	PprofAddr      string
	Runtime        string   // "stub" (default) or "subprocess"
	SubprocessCmd  string   // e.g. "claude"
	SubprocessArgs []string // e.g. ["-p", "--output-format", "text"]
	Sandbox        bool     // run agent subprocesses inside bubblewrap (Linux only)
	DBDriver       string   // "sqlite" (default) or "postgres"
	DBURL          string   // for postgres: connection string (or DATABASE_URL env)
	EnableOtel     bool     // enable OpenTelemetry metrics (Prometheus exporter + HTTP/SSE instrumentation)
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
