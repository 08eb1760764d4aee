// Package planner orders files for dispatch by priority class.
package planner

import (
	"sort"

	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/pkg/types"
)

// DefaultFanInThreshold is the fan-in above which a changed file is class 1
const DefaultFanInThreshold = 3

// PlannedFile is one file in dispatch order
type PlannedFile struct {
	Path    string
	Status  types.FileStatus
	Class   types.PriorityClass
	Signals types.FileSignals
}

// Plan is the ordered output of the planner. Files holds every present file;
// Deleted lists paths whose records must be removed.
type Plan struct {
	Files   []PlannedFile
	Deleted []string
}

// CountByClass returns the number of files in each class
func (p *Plan) CountByClass() map[types.PriorityClass]int {
	counts := make(map[types.PriorityClass]int)
	for _, f := range p.Files {
		counts[f.Class]++
	}
	return counts
}

// Planner assigns priority classes
type Planner struct {
	fanInThreshold int
}

// New creates a planner. A threshold <= 0 uses DefaultFanInThreshold.
func New(fanInThreshold int) *Planner {
	if fanInThreshold <= 0 {
		fanInThreshold = DefaultFanInThreshold
	}
	return &Planner{fanInThreshold: fanInThreshold}
}

// Classify returns the class of a file with the given status and signals
func (p *Planner) Classify(status types.FileStatus, sig types.FileSignals) types.PriorityClass {
	if status == types.FileUnchanged {
		return types.ClassUnchanged
	}
	switch {
	case sig.EntryPoint:
		return types.ClassChangedEntryPoint
	case sig.FanIn > p.fanInThreshold:
		return types.ClassChangedHighFanIn
	default:
		return types.ClassChangedOther
	}
}

// Plan orders the diff's present files by class, then descending fan-in,
// then ascending path. The order is total.
func (p *Planner) Plan(diff *state.DiffResult, signals map[string]types.FileSignals) *Plan {
	plan := &Plan{Deleted: append([]string(nil), diff.Deleted...)}

	add := func(paths []string, status types.FileStatus) {
		for _, path := range paths {
			sig := signals[path]
			plan.Files = append(plan.Files, PlannedFile{
				Path:    path,
				Status:  status,
				Class:   p.Classify(status, sig),
				Signals: sig,
			})
		}
	}
	add(diff.New, types.FileNew)
	add(diff.Changed, types.FileChanged)
	add(diff.Unchanged, types.FileUnchanged)

	sort.Slice(plan.Files, func(i, j int) bool {
		return Less(plan.Files[i], plan.Files[j])
	})
	return plan
}

// Less is the planner's total order
func Less(a, b PlannedFile) bool {
	if a.Class != b.Class {
		return a.Class < b.Class
	}
	if a.Signals.FanIn != b.Signals.FanIn {
		return a.Signals.FanIn > b.Signals.FanIn
	}
	return a.Path < b.Path
}
