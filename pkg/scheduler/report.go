package scheduler

import (
	"fmt"
	"io"
	"strings"

	"github.com/stripe/schema-planner/internal/graph"
	"github.com/stripe/schema-planner/internal/set"
	"github.com/stripe/schema-planner/pkg/classify"
)

const maxErrorLength = 200

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// TruncateError shortens an error message to the length reports show
func TruncateError(errText string) string {
	return truncate(errText, maxErrorLength)
}

type (
	// ObjectReport describes an object that did not reach SUCCESS
	ObjectReport struct {
		Key            string
		Type           ObjectType
		Status         Status
		Attempts       int
		DependencyKind classify.DependencyKind
		// LastError is truncated to 200 characters
		LastError string
		// Waiting holds the names the last failure reported missing. For an unresolved object, only the ones not
		// created yet.
		Waiting []string
		// CircularDependency is set when the object waits, directly or not, on itself
		CircularDependency bool
	}

	// Report separates objects that were created, objects that failed on their own content, and objects still waiting
	// on a prerequisite that never arrived
	Report struct {
		Counts           map[Status]int
		Succeeded        []string
		Failed           []ObjectReport
		Unresolved       []ObjectReport
		CyclesUsed       int
		MaxCycles        int
		ValidationErrors []string
	}
)

func (s *Scheduler) Report() Report {
	report := Report{
		Counts:           make(map[Status]int),
		CyclesUsed:       s.currentCycle,
		MaxCycles:        s.opts.maxCycles,
		ValidationErrors: s.ValidationErrors(),
	}
	inCycle := set.NewSet(s.waitGraph().VerticesInCycles()...)
	for _, obj := range s.Objects() {
		report.Counts[obj.Status]++
		if obj.Status == StatusSuccess {
			report.Succeeded = append(report.Succeeded, obj.Key())
			continue
		}
		objReport := ObjectReport{
			Key:            obj.Key(),
			Type:           obj.Type,
			Status:         obj.Status,
			Attempts:       obj.AttemptCount,
			DependencyKind: obj.DependencyKind,
			LastError:      truncate(obj.LastError, maxErrorLength),
		}
		switch obj.Status {
		case StatusFailed:
			objReport.Waiting = obj.Dependencies
			report.Failed = append(report.Failed, objReport)
		case StatusSkipped, StatusPending:
			objReport.Waiting = s.migrated.Missing(obj.Dependencies)
			objReport.CircularDependency = inCycle.Has(obj.Key())
			report.Unresolved = append(report.Unresolved, objReport)
		}
	}
	return report
}

// AllSucceeded reports whether every registered object was created
func (r Report) AllSucceeded() bool {
	return len(r.Failed) == 0 && len(r.Unresolved) == 0
}

type objectVertex struct {
	MigrationObject
}

func (v objectVertex) GetId() string {
	return v.Key()
}

func (v objectVertex) DOTLabel() string {
	return fmt.Sprintf("%s\n%s", v.Key(), v.Status)
}

func (v objectVertex) DOTColor() string {
	switch v.Status {
	case StatusSuccess:
		return "darkgreen"
	case StatusFailed:
		return "red"
	case StatusSkipped:
		return "orange"
	default:
		return ""
	}
}

// waitGraph links every object to the objects it is waiting on
func (s *Scheduler) waitGraph() *graph.Graph[objectVertex] {
	g := graph.NewGraph[objectVertex]()
	objects := s.Objects()
	for _, obj := range objects {
		g.AddVertex(objectVertex{obj})
	}
	for _, obj := range objects {
		if obj.Status != StatusSkipped {
			continue
		}
		for _, dep := range obj.Dependencies {
			if g.HasVertexWithId(dep) {
				// Both ends were just added.
				_ = g.AddEdge(obj.Key(), dep)
			}
		}
	}
	return g
}

// EncodeDOT writes the wait graph in DOT format: one node per object, labeled with its status, and an edge from each
// skipped object to each object it waits on
func (s *Scheduler) EncodeDOT(w io.Writer) error {
	return graph.EncodeDOT(s.waitGraph(), w)
}

// WriteText writes the human-readable report: per status bucket, every object's qualified name and attempt count,
// and what the unresolved objects are still waiting on
func (r Report) WriteText(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Objects: %d succeeded, %d failed, %d unresolved\n",
		len(r.Succeeded), len(r.Failed), len(r.Unresolved)))
	sb.WriteString(fmt.Sprintf("Retry cycles used: %d of %d\n", r.CyclesUsed, r.MaxCycles))

	sb.WriteString(fmt.Sprintf("\nSUCCESS (%d)\n", len(r.Succeeded)))
	for _, key := range r.Succeeded {
		sb.WriteString(fmt.Sprintf("  %s\n", key))
	}

	sb.WriteString(fmt.Sprintf("\nFAILED (%d)\n", len(r.Failed)))
	for _, o := range r.Failed {
		sb.WriteString(fmt.Sprintf("  %s %s: %d attempt(s), %s\n", o.Type, o.Key, o.Attempts, o.DependencyKind))
		if len(o.Waiting) > 0 {
			sb.WriteString(fmt.Sprintf("    missing: %s\n", strings.Join(o.Waiting, ", ")))
		}
		sb.WriteString(fmt.Sprintf("    last error: %s\n", oneLine(o.LastError)))
	}

	sb.WriteString(fmt.Sprintf("\nUNRESOLVED DEPENDENCY (%d)\n", len(r.Unresolved)))
	for _, o := range r.Unresolved {
		sb.WriteString(fmt.Sprintf("  %s %s: %d attempt(s), %s\n", o.Type, o.Key, o.Attempts, o.Status))
		if len(o.Waiting) > 0 {
			sb.WriteString(fmt.Sprintf("    waiting on: %s\n", strings.Join(o.Waiting, ", ")))
		}
		if o.CircularDependency {
			sb.WriteString("    circular dependency\n")
		}
		if o.LastError != "" {
			sb.WriteString(fmt.Sprintf("    last error: %s\n", oneLine(o.LastError)))
		}
	}

	if len(r.ValidationErrors) > 0 {
		sb.WriteString(fmt.Sprintf("\nVALIDATION ERRORS (%d)\n", len(r.ValidationErrors)))
		for _, e := range r.ValidationErrors {
			sb.WriteString(fmt.Sprintf("  %s\n", oneLine(e)))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
