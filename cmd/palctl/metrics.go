package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/logging"
	"github.com/oriys/pal/internal/pal/metrics"
)

func metricsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "metrics-serve",
		Short: "Serve the Prometheus metrics registry over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logging.Op().Info("palctl: serving metrics", "addr", addr)
			fmt.Printf("serving /metrics on %s\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "address to serve /metrics on")
	return cmd
}
