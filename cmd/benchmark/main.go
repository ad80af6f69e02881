// Benchmark tool for testing Kestrel against synthetic procurement data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -batches 200
//
// This tool:
//  1. Generates labeled procurement batches (a fraction with an injected
//     fraud scheme: duplicate invoices, structuring, circular payments or
//     near-identical bids)
//  2. Sends each batch to Kestrel for analysis
//  3. Compares Kestrel's verdict (overall risk high/critical) with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledBatch is one generated batch with its ground-truth label.
type LabeledBatch struct {
	Scheme  string // "" for clean batches
	Payload AnalyzeRequest
}

// AnalyzeRequest is the Kestrel API request format.
type AnalyzeRequest struct {
	Contracts    []Contract    `json:"contracts,omitempty"`
	Vendors      []Vendor      `json:"vendors,omitempty"`
	Invoices     []Invoice     `json:"invoices,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

type Contract struct {
	ID               string    `json:"id"`
	BiddingProcessID string    `json:"biddingProcessId"`
	BidAmount        float64   `json:"bidAmount"`
	VendorID         string    `json:"vendorId"`
	ContractDate     time.Time `json:"contractDate"`
	Category         string    `json:"category,omitempty"`
}

type Vendor struct {
	VendorID         string    `json:"vendorId"`
	Name             string    `json:"name"`
	RegistrationDate time.Time `json:"registrationDate"`
}

type Invoice struct {
	VendorID      string    `json:"vendorId"`
	Amount        float64   `json:"amount"`
	Date          time.Time `json:"date"`
	InvoiceNumber string    `json:"invoiceNumber"`
}

type Transaction struct {
	PayerID     string    `json:"payerId"`
	RecipientID string    `json:"recipientId"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// AnalyzeResponse is the subset of the Kestrel API response the benchmark reads.
type AnalyzeResponse struct {
	ID               string  `json:"id"`
	OverallRiskLevel string  `json:"overallRiskLevel"`
	TotalImpact      float64 `json:"totalEstimatedImpact"`
	PatternCount     int     `json:"-"`
	Patterns         []struct {
		FraudType string `json:"fraudType"`
	} `json:"patterns"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud batch flagged high/critical
	FalsePositives int64 // Clean batch flagged high/critical
	TrueNegatives  int64 // Clean batch at low/medium
	FalseNegatives int64 // Fraud batch at low/medium (missed!)

	TotalProcessed int64
	TotalFraud     int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 200, "Number of batches to generate")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.3, "Fraction of batches with an injected scheme")
	seed := flag.Int64("seed", 1, "Random seed for batch generation")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║       KESTREL BENCHMARK - Synthetic Procurement Fraud         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d\n", *batches)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nGenerating %d labeled batches...\n", *batches)
	labeled := generateBatches(*batches, *fraudRate, *seed)

	fraudCount := 0
	for _, b := range labeled {
		if b.Scheme != "" {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d batches\n", len(labeled))
	fmt.Printf("  - Fraud: %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(labeled)))
	fmt.Printf("  - Clean: %d (%.2f%%)\n", len(labeled)-fraudCount, 100*float64(len(labeled)-fraudCount)/float64(len(labeled)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(labeled, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateBatches builds labeled procurement batches. Clean batches carry
// diverse bids, distinct invoices and plausibly spread payments; fraud
// batches have one scheme injected on top of the same background noise.
func generateBatches(count int, fraudRate float64, seed int64) []LabeledBatch {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	schemes := []string{"duplicate_invoices", "structuring", "circular_payments", "bid_rigging"}

	batches := make([]LabeledBatch, 0, count)
	for i := 0; i < count; i++ {
		b := LabeledBatch{Payload: cleanBatch(rng, base, i)}

		if rng.Float64() < fraudRate {
			b.Scheme = schemes[rng.Intn(len(schemes))]
			injectScheme(&b.Payload, b.Scheme, rng, base, i)
		}

		batches = append(batches, b)
	}
	return batches
}

func cleanBatch(rng *rand.Rand, base time.Time, n int) AnalyzeRequest {
	var req AnalyzeRequest

	// Diverse bids in one process
	process := fmt.Sprintf("bp-%d", n)
	for j := 0; j < 4; j++ {
		req.Contracts = append(req.Contracts, Contract{
			ID:               fmt.Sprintf("c-%d-%d", n, j),
			BiddingProcessID: process,
			BidAmount:        50000 + rng.Float64()*100000,
			VendorID:         fmt.Sprintf("v-%d-%d", n, j),
			ContractDate:     base.AddDate(0, 0, j),
			Category:         "construction",
		})
	}

	// Distinct invoices
	for j := 0; j < 5; j++ {
		req.Invoices = append(req.Invoices, Invoice{
			VendorID:      fmt.Sprintf("v-%d-%d", n, j%4),
			Amount:        1000 + rng.Float64()*50000,
			Date:          base.AddDate(0, 0, 10+j),
			InvoiceNumber: fmt.Sprintf("INV-%d-%03d", n, j*7),
		})
	}

	// Spread payments at business hours on weekdays
	for j := 0; j < 6; j++ {
		req.Transactions = append(req.Transactions, Transaction{
			PayerID:     fmt.Sprintf("agency-%d", n%5),
			RecipientID: fmt.Sprintf("v-%d-%d", n, j%4),
			Amount:      500 + rng.Float64()*8000,
			Timestamp:   base.AddDate(0, 0, j*3).Add(time.Duration(rng.Intn(7)) * time.Hour),
		})
	}

	return req
}

func injectScheme(req *AnalyzeRequest, scheme string, rng *rand.Rand, base time.Time, n int) {
	switch scheme {
	case "duplicate_invoices":
		day := base.AddDate(0, 0, 20)
		amount := 10000 + rng.Float64()*5000
		for j := 0; j < 3; j++ {
			req.Invoices = append(req.Invoices, Invoice{
				VendorID:      fmt.Sprintf("v-%d-dup", n),
				Amount:        amount,
				Date:          day,
				InvoiceNumber: fmt.Sprintf("DUP-%d-%d", n, j),
			})
		}

	case "structuring":
		for j := 0; j < 6; j++ {
			req.Transactions = append(req.Transactions, Transaction{
				PayerID:     fmt.Sprintf("agency-%d", n%5),
				RecipientID: fmt.Sprintf("v-%d-str", n),
				Amount:      9100 + rng.Float64()*800, // just under 10k
				Timestamp:   base.Add(time.Duration(j) * 2 * time.Hour),
			})
		}

	case "circular_payments":
		a := fmt.Sprintf("v-%d-ca", n)
		b := fmt.Sprintf("v-%d-cb", n)
		c := fmt.Sprintf("v-%d-cc", n)
		amount := 50000 + rng.Float64()*50000
		req.Transactions = append(req.Transactions,
			Transaction{PayerID: a, RecipientID: b, Amount: amount, Timestamp: base},
			Transaction{PayerID: b, RecipientID: c, Amount: amount * 0.95, Timestamp: base.AddDate(0, 0, 5)},
			Transaction{PayerID: c, RecipientID: a, Amount: amount * 0.9, Timestamp: base.AddDate(0, 0, 12)},
		)

	case "bid_rigging":
		process := fmt.Sprintf("bp-%d-rig", n)
		bid := 200000 + rng.Float64()*100000
		for j := 0; j < 3; j++ {
			req.Contracts = append(req.Contracts, Contract{
				ID:               fmt.Sprintf("c-%d-rig-%d", n, j),
				BiddingProcessID: process,
				BidAmount:        bid * (1 + float64(j)*0.01), // within a few percent
				VendorID:         fmt.Sprintf("v-%d-rig-%d", n, j),
				ContractDate:     base.AddDate(0, 0, j),
				Category:         "services",
			})
		}
	}
}

func runBenchmark(batches []LabeledBatch, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledBatch, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for batch := range work {
				start := time.Now()
				result, err := analyzeBatch(client, baseURL, tenantID, batch.Payload)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				actual := batch.Scheme != ""
				if actual {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := result.OverallRiskLevel == "high" || result.OverallRiskLevel == "critical"

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					scheme := batch.Scheme
					if scheme == "" {
						scheme = "clean"
					}
					fmt.Printf("%s %-18s | Risk: %-8s | Patterns: %2d | Impact: $%12.2f | %dms\n",
						status,
						scheme,
						result.OverallRiskLevel,
						len(result.Patterns),
						result.TotalImpact,
						elapsed,
					)
				}
			}
		}()
	}

	for _, batch := range batches {
		work <- batch
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeBatch(client *http.Client, baseURL, tenantID string, req AnalyzeRequest) (*AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH        LOW")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged batches, how many had a scheme)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of schemes, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		bps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f batches/sec\n", bps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most schemes")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some schemes")
	} else {
		fmt.Println("   ❌ Poor recall - most schemes are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	}

	fmt.Println()
}
