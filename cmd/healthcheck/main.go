// Container healthcheck: probes the management API and exits non-zero
// when it is unreachable.
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/laster13/rdt-client/internal/config"
)

type HealthStatus struct {
	API           bool `json:"api"`
	OverallStatus bool `json:"overall_status"`
}

func main() {
	var (
		configPath string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "/data", "path to the data folder")
	flag.BoolVar(&debug, "debug", false, "enable debug mode for detailed output")
	flag.Parse()
	config.SetConfigPath(configPath)
	cfg := config.Get()

	port := getEnvOrDefault("RDT_PORT", cfg.Web.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	baseURL := cmp.Or(cfg.Web.URLBase, "/")
	if !strings.HasPrefix(baseURL, "/") {
		baseURL = "/" + baseURL
	}

	status := HealthStatus{
		API: checkAPI(ctx, baseURL, port),
	}
	status.OverallStatus = status.API

	if debug {
		statusJSON, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(statusJSON))
	}

	if status.OverallStatus {
		os.Exit(0)
	}
	os.Exit(1)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func checkAPI(ctx context.Context, baseURL, port string) bool {
	url := fmt.Sprintf("http://localhost:%s%shealth", port, baseURL)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
