package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
)

// latencySummary в миллисекундах.
type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// couponReport сверяет выдачи, увиденные клиентами, со счётчиком купона.
type couponReport struct {
	Code            string `json:"code"`
	Capacity        int64  `json:"capacity"`
	GrantedByServer int64  `json:"granted_by_server"`
	GrantedObserved int64  `json:"granted_observed"`
	Oversold        bool   `json:"oversold"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Coupon            *couponReport           `json:"coupon,omitempty"`
}

// tally накапливает исходы одного RPC (или сценария целиком).
type tally struct {
	ok, failed int64
	codes      map[codes.Code]int64
	latencies  []time.Duration
}

func (t *tally) toReport() methodReport {
	byName := make(map[string]int64, len(t.codes))
	for code, n := range t.codes {
		byName[code.String()] = n
	}
	calls := t.ok + t.failed
	return methodReport{
		Calls:     calls,
		Success:   t.ok,
		Failed:    t.failed,
		ErrorRate: ratio(t.failed, calls),
		Codes:     byName,
		LatencyMs: summarize(t.latencies),
	}
}

type collector struct {
	mu      sync.Mutex
	tallies map[string]*tally
}

func newCollector() *collector {
	return &collector{tallies: make(map[string]*tally)}
}

// record учитывает вызов; ok=false считает его неудачным независимо от кода.
func (c *collector) record(method string, latency time.Duration, code codes.Code, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tallies[method]
	if t == nil {
		t = &tally{codes: make(map[codes.Code]int64)}
		c.tallies[method] = t
	}
	if ok {
		t.ok++
	} else {
		t.failed++
	}
	t.codes[code]++
	t.latencies = append(t.latencies, latency)
}

func (c *collector) codeCount(method string, code codes.Code) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.tallies[method]; t != nil {
		return t.codes[code]
	}
	return 0
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.tallies)),
	}
	for name, t := range c.tallies {
		out.Methods[name] = t.toReport()
	}

	if scenarios, ok := out.Methods[scenarioMethod]; ok {
		out.TotalScenarios = scenarios.Calls
		out.SuccessScenarios = scenarios.Success
		out.FailedScenarios = scenarios.Failed
		out.ErrorRate = scenarios.ErrorRate
		out.ScenarioLatencyMs = scenarios.LatencyMs
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

// writeJSONReport пишет отчёт через временный файл и rename, чтобы
// прерванный прогон не оставил обрезанный JSON.
func writeJSONReport(path string, result report) error {
	target := filepath.Clean(path)
	switch {
	case target == "." || target == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case target == ".." || strings.HasPrefix(target, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".loadtest-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "Load test summary\nmode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(table, "METHOD\tCALLS\tOK\tFAILED\tERROR_RATE\tP95_MS\tCODES")
	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioMethod {
			continue
		}
		m := result.Methods[name]
		_, _ = fmt.Fprintf(table, "%s\t%d\t%d\t%d\t%.4f\t%.2f\t%s\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95, formatCodes(m.Codes))
	}
	_ = table.Flush()

	if c := result.Coupon; c != nil {
		_, _ = fmt.Fprintf(w, "coupon %s: capacity=%d granted_by_server=%d granted_observed=%d oversold=%t\n",
			c.Code, c.Capacity, c.GrantedByServer, c.GrantedObserved, c.Oversold)
	}
}

// formatCodes печатает коды в виде OK=3,ResourceExhausted=7.
func formatCodes(byName map[string]int64) string {
	if len(byName) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		parts = append(parts, fmt.Sprintf("%s=%d", name, byName[name]))
	}
	return strings.Join(parts, ",")
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(latencies))
	var total float64
	for i, d := range latencies {
		ms[i] = float64(d.Microseconds()) / 1000
		total += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: total / float64(len(ms)),
		P50: percentile(ms, 50),
		P95: percentile(ms, 95),
		P99: percentile(ms, 99),
	}
}

// percentile по отсортированной выборке с линейной интерполяцией между соседями.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	i := int(pos)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(i)
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
