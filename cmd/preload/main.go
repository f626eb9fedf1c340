// Package main provides the preload CLI for warming the panorama cache
// against a geofence whitelist ahead of a benchmarking run.
//
// Usage:
//
//	preload --geofence downtown-sf           # kick off and wait
//	preload --geofence downtown-sf --no-wait # kick off and return immediately
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	baseURL  string
	geofence string
	noWait   bool
	interval time.Duration
)

type progressResponse struct {
	Status     string  `json:"status"`
	Done       int     `json:"done"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Errors     int     `json:"errors"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "preload",
		Short: "Warm the panorama cache for a geofence",
		Long: `Warm the panorama cache for a named geofence whitelist.

This command:
  1. Starts a preload run via POST /api/geofences/{name}/preload
  2. Polls GET /api/geofences/{name}/preload/status until it completes
  3. Reports the final done/total/error counts`,
		RunE: runPreload,
	}

	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the running API server")
	rootCmd.Flags().StringVar(&geofence, "geofence", "", "Geofence name to preload (required)")
	rootCmd.Flags().BoolVar(&noWait, "no-wait", false, "Start the preload and exit without polling")
	rootCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval while waiting")
	_ = rootCmd.MarkFlagRequired("geofence")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("preload failed", "error", err)
		os.Exit(1)
	}
}

func runPreload(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	startURL := fmt.Sprintf("%s/api/geofences/%s/preload", baseURL, geofence)
	resp, err := client.Post(startURL, "application/json", nil)
	if err != nil {
		return fmt.Errorf("start preload: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("start preload: server returned %s", resp.Status)
	}
	slog.Info("preload started", "geofence", geofence)

	if noWait {
		return nil
	}

	statusURL := fmt.Sprintf("%s/api/geofences/%s/preload/status", baseURL, geofence)
	for {
		time.Sleep(interval)

		p, err := fetchStatus(client, statusURL)
		if err != nil {
			return err
		}
		slog.Info("preload progress", "status", p.Status, "done", p.Done, "total", p.Total, "errors", p.Errors, "pct", fmt.Sprintf("%.1f", p.Percentage))

		if p.Status == "completed" {
			slog.Info("preload complete", "geofence", geofence, "done", p.Done, "total", p.Total, "errors", p.Errors)
			return nil
		}
	}
}

func fetchStatus(client *http.Client, statusURL string) (*progressResponse, error) {
	resp, err := client.Get(statusURL)
	if err != nil {
		return nil, fmt.Errorf("poll preload status: %w", err)
	}
	defer resp.Body.Close()

	var p progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode preload status: %w", err)
	}
	return &p, nil
}
