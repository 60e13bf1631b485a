//go:build ignore

// cbtest exercises a running gateway against the stub backend: health
// reporting, both rewrite rules and, once the backend is killed, the
// circuit breaker.
//
// Usage:
//
//	go run cbtest.go -gateway http://localhost:3000 -backend-port 8000
//
// Start the gateway with PROXY_CIRCUIT_BREAKER_ENABLED=true to see phase 3
// reject requests with 503.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
)

func main() {
	var (
		gatewayURL  = flag.String("gateway", "http://localhost:3000", "Gateway URL")
		backendPort = flag.Int("backend-port", 8000, "Backend port to kill for testing")
		requests    = flag.Int("requests", 10, "Requests per phase")
		skipKill    = flag.Bool("skip-kill", false, "Skip the kill backend phase")
	)
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Println(colorBlue + "━━━ PHASE 1: Health ━━━" + colorReset)
	health, err := getJSON(client, *gatewayURL+"/api/v1/health")
	if err != nil {
		fmt.Printf(colorRed+"  ✗ Health check failed: %v\n"+colorReset, err)
		os.Exit(1)
	}
	fmt.Printf("  status=%v backend=%v\n", health["status"], health["backend"])
	fmt.Println()

	fmt.Println(colorBlue + "━━━ PHASE 2: Rewrites ━━━" + colorReset)
	for path, want := range map[string]string{
		"/api/v1/widgets/42":  "/api/v1/widgets/42",
		"/api_be/legacy/ping": "/legacy/ping",
	} {
		echo, err := getJSON(client, *gatewayURL+path)
		if err != nil {
			fmt.Printf(colorRed+"  ✗ %s: %v\n"+colorReset, path, err)
			continue
		}
		if echo["path"] == want {
			fmt.Printf(colorGreen+"  ✓ %s → %s\n"+colorReset, path, want)
		} else {
			fmt.Printf(colorRed+"  ✗ %s → %v (want %s)\n"+colorReset, path, echo["path"], want)
		}
	}
	fmt.Println()

	if !*skipKill {
		fmt.Println(colorBlue + "━━━ PHASE 3: Backend Failure ━━━" + colorReset)
		if err := killBackend(*backendPort); err != nil {
			fmt.Printf(colorYellow+"  Warning: Could not kill backend: %v\n"+colorReset, err)
		}
		time.Sleep(500 * time.Millisecond)

		codes := make(map[int]int)
		for i := 0; i < *requests; i++ {
			resp, err := client.Get(*gatewayURL + "/api/v1/widgets")
			if err != nil {
				fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
				continue
			}
			codes[resp.StatusCode]++
			if resp.StatusCode == http.StatusServiceUnavailable {
				fmt.Printf("  Request %d: rejected, Retry-After=%s\n", i+1, resp.Header.Get("Retry-After"))
			}
			resp.Body.Close()
		}
		fmt.Printf("  Status codes: %v\n", codes)

		health, err := getJSON(client, *gatewayURL+"/api/v1/health")
		if err == nil {
			fmt.Printf("  Health after failure: status=%v backend=%v\n", health["status"], health["backend"])
		}
		fmt.Println()
	}

	fmt.Println(colorBlue + "━━━ PHASE 4: Metrics ━━━" + colorReset)
	metrics, err := getJSON(client, *gatewayURL+"/metrics")
	if err != nil {
		fmt.Printf(colorYellow+"  Could not fetch metrics: %v\n"+colorReset, err)
		return
	}
	if upstream, ok := metrics["upstream"].(map[string]interface{}); ok {
		fmt.Printf("  Upstream %v breakers=%v\n", upstream["url"], upstream["breakers"])
	}
	if routes, ok := metrics["routes"].(map[string]interface{}); ok {
		for route, data := range routes {
			fmt.Printf("  %s → %v\n", route, data)
		}
	}
}

func getJSON(client *http.Client, url string) (map[string]interface{}, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, err)
	}

	return out, nil
}

func killBackend(port int) error {
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("no process found on port %d", port)
	}

	pid := strings.TrimSpace(string(output))
	if pid == "" {
		return fmt.Errorf("no process found on port %d", port)
	}

	return exec.Command("kill", pid).Run()
}
