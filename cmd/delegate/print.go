package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/delegate/internal/classify"
	"github.com/ShayCichocki/delegate/internal/engine"
	"github.com/ShayCichocki/delegate/internal/sparring"
	"github.com/ShayCichocki/delegate/pkg/models"
)

var (
	okColor    = color.New(color.FgGreen)
	failColor  = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	labelColor = color.New(color.FgCyan)
	dimColor   = color.New(color.Faint)
)

func printDecision(w io.Writer, class classify.Classification, dec models.DelegationDecision) {
	fmt.Fprintf(w, "%s %s (tier %s, %s)\n", labelColor.Sprint("type:"), class.Type, class.Tier, class.Source)
	fmt.Fprintf(w, "%s %s via %s, confidence %.2f\n", labelColor.Sprint("executor:"), dec.Executor, dec.Strategy, dec.Confidence)
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("rule:"), dec.Rule)
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("pressure:"), dec.Pressure)
	fmt.Fprintf(w, "%s\n", dimColor.Sprint(dec.Rationale))
}

func printReport(w io.Writer, r engine.Report) {
	printDecision(w, r.Classification, r.Decision)
	if r.Decomposition != nil {
		names := make([]string, len(r.Decomposition.Subtasks))
		for i, st := range r.Decomposition.Subtasks {
			names[i] = st.Name
		}
		fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("subtasks:"), strings.Join(names, " -> "))
	}
	if r.Sparring != nil {
		printSparringSummary(w, r.Sparring)
	}
	fmt.Fprintln(w)
	printResult(w, r.Result)
}

func printResult(w io.Writer, res models.ExecutionResult) {
	if res.Succeeded() {
		status := okColor.Sprint("✓ succeeded")
		if res.CacheHit {
			status += dimColor.Sprint(" (cached)")
		}
		fmt.Fprintf(w, "%s on %s in %s, consumed %d, retries %d, confidence %.2f\n",
			status, res.Executor, res.Duration.Round(time.Millisecond), res.Consumed, res.Retries, res.Confidence)
		if res.Rationale != "" {
			fmt.Fprintf(w, "%s %s\n", labelColor.Sprint("rationale:"), res.Rationale)
		}
		fmt.Fprintf(w, "\n%s\n", res.Payload)
		return
	}

	fmt.Fprintf(w, "%s %s: %s\n", failColor.Sprint("✗ failed"), res.ErrorKind, res.Error)
	for _, a := range res.Attempts {
		kind := string(a.ErrorKind)
		if kind == "" {
			kind = "ok"
		}
		fmt.Fprintf(w, "  attempt %d on %s: %s\n", a.Number, a.Executor, kind)
	}
	for _, p := range res.Partial {
		fmt.Fprintf(w, "%s %s\n", warnColor.Sprint("partial:"), p.TaskID)
	}
}

func printSparringSummary(w io.Writer, s *sparring.Session) {
	state := okColor.Sprint(string(s.State))
	if s.State == sparring.StateFailed {
		state = failColor.Sprint(string(s.State))
	}
	fmt.Fprintf(w, "%s %s %s, %d challenges, %d alternatives",
		labelColor.Sprint("sparring:"), s.Mode, state, len(s.Challenges), len(s.Alternatives))
	if s.BudgetExceeded {
		fmt.Fprint(w, warnColor.Sprint(" (budget exceeded)"))
	}
	fmt.Fprintln(w)
}

func printSparring(w io.Writer, s *sparring.Session) {
	printSparringSummary(w, s)
	for _, c := range s.Challenges {
		sev := string(c.Severity)
		if c.Severity == models.SeverityCritical {
			sev = failColor.Sprint(sev)
		}
		fmt.Fprintf(w, "  [%s] %s\n", sev, c.Point)
		if c.Correction != "" {
			fmt.Fprintf(w, "      %s %s\n", dimColor.Sprint("=>"), c.Correction)
		}
	}
	for i, alt := range s.Alternatives {
		fmt.Fprintf(w, "  alternative %d: %s\n", i+1, alt.Summary)
		for _, imp := range alt.Improvements {
			fmt.Fprintf(w, "      + %s: %s\n", imp.Aspect, imp.Text)
		}
	}
	fmt.Fprintln(w)
	printResult(w, s.Final)
}

func printEvent(w io.Writer, ev engine.EngineEvent) {
	line := fmt.Sprintf("%s %-18s %s", ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.TaskID)
	if ev.Executor != "" {
		line += " " + string(ev.Executor)
	}
	if ev.Message != "" {
		line += " " + ev.Message
	}
	fmt.Fprintln(w, dimColor.Sprint(line))
}

func printMetrics(w io.Writer, records []models.MetricsRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tEXECUTOR\tINVOCATIONS\tFAILURES\tCACHE HITS\tAVG DURATION\tCONSUMED\tSAVED")
	for _, r := range records {
		var avg time.Duration
		if r.Invocations > 0 {
			avg = r.TotalDuration / time.Duration(r.Invocations)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%d\t%.1f\n",
			r.TaskType, r.Executor, r.Invocations, r.Failures, r.CacheHits,
			avg.Round(time.Millisecond), r.ResourceConsumed, r.ResourceSaved)
	}
	tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
