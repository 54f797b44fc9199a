package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunview/internal/metrics"
	"github.com/kartikbazzad/bunview/pkg/client"
	"github.com/kartikbazzad/bunview/pkg/logger"
)

var flags struct {
	configFile     string
	endpoint       string
	organizationID string
	projectID      string
	token          string
	policy         string
	metricsAddr    string
	debug          bool
}

var rootCmd = &cobra.Command{
	Use:           "bunview",
	Short:         "Read and write rows of bunbase views",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Config file (BUNVIEW_* variables override it)")
	pf.StringVar(&flags.endpoint, "endpoint", "", "Backend origin")
	pf.StringVar(&flags.organizationID, "organization", "", "Organization id")
	pf.StringVar(&flags.projectID, "project", "", "Project id")
	pf.StringVar(&flags.token, "token", "", "Bearer token")
	pf.StringVar(&flags.policy, "policy", "", "Default network policy (network-only, network-and-cache, cache-only)")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.BoolVar(&flags.debug, "debug", false, "Log every operation and result")

	rootCmd.AddCommand(rowsCmd(), relationCmd(), actionCmd(), uploadCmd())
}

// newClient builds a client from the config file, the environment and flags,
// in increasing precedence.
func newClient() (*client.Client, error) {
	cfg, err := client.LoadConfig(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.endpoint != "" {
		cfg.Endpoint = flags.endpoint
	}
	if flags.organizationID != "" {
		cfg.OrganizationID = flags.organizationID
	}
	if flags.projectID != "" {
		cfg.ProjectID = flags.projectID
	}
	if flags.token != "" {
		cfg.Token = flags.token
	}
	if flags.policy != "" {
		cfg.DefaultNetworkPolicy = flags.policy
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required (--endpoint or BUNVIEW_ENDPOINT)")
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}
	logger.Init(cfg.Log)

	opts := []client.Option{client.WithLogger(logger.For("client"))}
	if flags.debug {
		opts = append(opts, client.WithDebug())
	}
	if flags.metricsAddr != "" {
		go serveMetrics(flags.metricsAddr)
	}
	return client.New(cfg, opts...)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseJSONObject reads a JSON object argument.
func parseJSONObject(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return out, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
