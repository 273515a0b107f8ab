// h2o-check is a small diagnostic tool: it probes the configured H2O cluster
// and reports whether training jobs will use the real engine or the
// simulator fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/insightflow/ml-studio-backend/h2o"
)

func main() {
	baseURL := flag.String("url", getEnvOrDefault("H2O_BASE_URL", "http://localhost:54321"), "H2O cluster base URL")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := h2o.NewClient(*baseURL)
	if client.CheckCluster(ctx) {
		fmt.Printf("H2O cluster at %s is reachable: training jobs will use the real engine\n", *baseURL)
		return
	}

	fmt.Printf("H2O cluster at %s is NOT reachable: training jobs will fall back to simulation\n", *baseURL)
	os.Exit(1)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
