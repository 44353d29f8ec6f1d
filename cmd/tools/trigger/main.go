package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	keyword := flag.String("keyword", "", "Search keyword override")
	limit := flag.Int("limit", 0, "Max records to process")
	skipAI := flag.Bool("skip-ai", false, "Skip enrichment for this run")
	wait := flag.Bool("wait", false, "Block until the import finishes")
	flag.Parse()

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	body, err := json.Marshal(map[string]any{
		"keyword":           *keyword,
		"max_process_count": *limit,
		"skip_enrichment":   *skipAI,
	})
	if err != nil {
		fmt.Printf("Error encoding body: %v\n", err)
		os.Exit(1)
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/admin/import"
	if *wait {
		url += "?wait=true"
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", adminSecret)

	client := &http.Client{Timeout: 35 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, out)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
