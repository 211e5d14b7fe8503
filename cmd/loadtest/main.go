// Command loadtest drives concurrent POST /api/v1/search traffic against a
// running api service and reports throughput and latency percentiles, split
// by text and raw-embedding queries.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -user alice -k 3 -concurrency 20
//	go run ./cmd/loadtest -embedding-ratio 0.3 -dim 1536
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const (
	kindText      = "text"
	kindEmbedding = "embedding"
)

type scenario struct {
	BaseURL        string
	User           string
	K              int
	Concurrency    int
	Duration       time.Duration
	EmbeddingRatio float64
	Dim            int
	Queries        []string
}

type searchBody struct {
	User       string      `json:"user"`
	K          int         `json:"k"`
	Text       []string    `json:"text,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

// sample is one finished request. status is 0 on a transport error.
type sample struct {
	kind    string
	status  int
	latency time.Duration
}

type recorder struct {
	mu      sync.Mutex
	samples []sample
}

func (r *recorder) add(s sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.samples)
}

// summary aggregates the samples of one query kind, or of all of them.
type summary struct {
	Total     int
	OK        int
	NoCorpus  int
	Errors    int
	Latencies []time.Duration
	Statuses  map[int]int
}

func summarize(samples []sample, kind string) summary {
	s := summary{Statuses: make(map[int]int)}
	for _, smp := range samples {
		if kind != "" && smp.kind != kind {
			continue
		}
		s.Total++
		s.Statuses[smp.status]++
		switch {
		case smp.status == 0:
			s.Errors++
			continue
		case smp.status >= 200 && smp.status < 300:
			s.OK++
		case smp.status == http.StatusNotFound:
			s.NoCorpus++
		default:
			s.Errors++
		}
		s.Latencies = append(s.Latencies, smp.latency)
	}
	slices.Sort(s.Latencies)
	return s
}

// percentile uses the nearest-rank method on sorted latencies.
func (s summary) percentile(p float64) time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(s.Latencies)))) - 1
	return s.Latencies[max(0, min(idx, len(s.Latencies)-1))]
}

func (s summary) mean() time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range s.Latencies {
		sum += l
	}
	return sum / time.Duration(len(s.Latencies))
}

func main() {
	sc := scenario{}
	flag.StringVar(&sc.BaseURL, "url", "http://localhost:8080", "base URL of the api service")
	flag.StringVar(&sc.User, "user", "anonymous", "user whose transcripts are searched")
	flag.IntVar(&sc.K, "k", 3, "matches per query")
	flag.IntVar(&sc.Concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&sc.Duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&sc.EmbeddingRatio, "embedding-ratio", 0, "share of requests sending a random raw embedding instead of text")
	flag.IntVar(&sc.Dim, "dim", 1536, "dimension of raw embedding queries; must match the corpus")
	flag.Parse()

	sc.Queries = []string{
		"welcome to the show",
		"interest rates and inflation",
		"how the engine was rebuilt",
		"questions from the audience",
		"the final score",
		"weather forecast for the weekend",
		"new product announcement",
		"thank you for listening",
		"breaking news tonight",
		"machine learning in production",
		"the history of the city",
		"recipe for dinner",
	}

	fmt.Println("=== Transcript Search Load Test ===")
	fmt.Printf("Target:      %s\n", sc.BaseURL)
	fmt.Printf("User:        %s (k=%d)\n", sc.User, sc.K)
	fmt.Printf("Concurrency: %d\n", sc.Concurrency)
	fmt.Printf("Duration:    %s\n", sc.Duration)
	fmt.Printf("Mix:         %.0f%% text, %.0f%% raw embeddings (dim %d)\n",
		100*(1-sc.EmbeddingRatio), 100*sc.EmbeddingRatio, sc.Dim)
	fmt.Println()

	samples := run(sc)
	if !report(os.Stdout, samples, sc.Duration) {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the api running?")
		os.Exit(1)
	}
}

func run(sc scenario) []sample {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        sc.Concurrency * 2,
			MaxIdleConnsPerHost: sc.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), sc.Duration)
	defer cancel()

	rec := &recorder{samples: make([]sample, 0, 100000)}
	var wg sync.WaitGroup
	for w := 0; w < sc.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + time.Now().UnixNano()))
			for i := worker; ctx.Err() == nil; i++ {
				kind, body := sc.next(rng, i)
				start := time.Now()
				status, err := post(ctx, client, sc.BaseURL+"/api/v1/search", body)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					status = 0
				}
				rec.add(sample{kind: kind, status: status, latency: time.Since(start)})
			}
		}(w)
	}

	bar := progressbar.NewOptions64(int64(sc.Duration.Seconds()),
		progressbar.OptionSetDescription("Running"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	wg.Wait()
	_ = bar.Finish()
	fmt.Println()
	return rec.snapshot()
}

// next picks the query kind for request i and builds its body.
func (sc scenario) next(rng *rand.Rand, i int) (string, searchBody) {
	body := searchBody{User: sc.User, K: sc.K}
	if sc.EmbeddingRatio > 0 && rng.Float64() < sc.EmbeddingRatio {
		vec := make([]float32, sc.Dim)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		body.Embeddings = [][]float32{vec}
		return kindEmbedding, body
	}
	body.Text = []string{sc.Queries[i%len(sc.Queries)]}
	return kindText, body
}

func post(ctx context.Context, client *http.Client, url string, body searchBody) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding search body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// report prints the results and returns false when nothing completed.
func report(w io.Writer, samples []sample, duration time.Duration) bool {
	all := summarize(samples, "")

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", all.Total)
	fmt.Fprintf(w, "Successful:      %d\n", all.OK)
	fmt.Fprintf(w, "No corpus (404): %d\n", all.NoCorpus)
	fmt.Fprintf(w, "Errors:          %d\n", all.Errors)
	if all.Total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(all.Errors)/float64(all.Total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(all.Total)/duration.Seconds())
	}

	for _, kind := range []string{"", kindText, kindEmbedding} {
		s := all
		title := "all"
		if kind != "" {
			s = summarize(samples, kind)
			title = kind
		}
		if len(s.Latencies) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "=== Latency (%s, %d samples) ===\n", title, len(s.Latencies))
		fmt.Fprintf(w, "Min:    %s\n", s.Latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", s.mean())
		fmt.Fprintf(w, "P50:    %s\n", s.percentile(50))
		fmt.Fprintf(w, "P95:    %s\n", s.percentile(95))
		fmt.Fprintf(w, "P99:    %s\n", s.percentile(99))
		fmt.Fprintf(w, "Max:    %s\n", s.Latencies[len(s.Latencies)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(all.Statuses))
	for code := range all.Statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		label := fmt.Sprint(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Fprintf(w, "  %s: %d\n", label, all.Statuses[code])
	}
	return all.Total > 0
}
