// Package queries indexes field-scoped clarification threads for display
// and for the submission confirmation gate.
package queries

import (
	"slices"
	"time"

	"github.com/pitabwire/msdsdraft/model"
)

// DefaultSLA is how long an open query may stay unanswered before it is
// shown as overdue.
const DefaultSLA = 72 * time.Hour

// Index is an immutable view of a workflow's query threads grouped by field
// and by step. Build a new one on every refresh.
type Index struct {
	byField map[string][]model.QueryThread
	byStep  map[int][]model.QueryThread
	open    int
	total   int
}

// IndexByField groups threads by field name and step. Within a group threads
// are ordered by creation time.
func IndexByField(threads []model.QueryThread) Index {
	idx := Index{
		byField: make(map[string][]model.QueryThread),
		byStep:  make(map[int][]model.QueryThread),
	}
	sorted := slices.Clone(threads)
	slices.SortStableFunc(sorted, func(a, b model.QueryThread) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for _, q := range sorted {
		idx.byField[q.FieldName] = append(idx.byField[q.FieldName], q)
		idx.byStep[q.StepNumber] = append(idx.byStep[q.StepNumber], q)
		idx.total++
		if q.IsOpen() {
			idx.open++
		}
	}
	return idx
}

// ForField returns the threads raised against a field.
func (idx Index) ForField(name string) []model.QueryThread {
	return slices.Clone(idx.byField[name])
}

// ForStep returns the threads raised against any field of a step.
func (idx Index) ForStep(step int) []model.QueryThread {
	return slices.Clone(idx.byStep[step])
}

// Fields returns the names of fields with at least one thread, sorted.
func (idx Index) Fields() []string {
	names := make([]string, 0, len(idx.byField))
	for name := range idx.byField {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Threads returns every thread, grouped by field in name order.
func (idx Index) Threads() []model.QueryThread {
	out := make([]model.QueryThread, 0, idx.total)
	for _, name := range idx.Fields() {
		out = append(out, idx.byField[name]...)
	}
	return out
}

// HasOpen reports whether the field has an open thread.
func (idx Index) HasOpen(name string) bool {
	return slices.ContainsFunc(idx.byField[name], model.QueryThread.IsOpen)
}

// HasResolvedUnseen reports whether a thread on the field was resolved
// after lastViewed.
func (idx Index) HasResolvedUnseen(name string, lastViewed time.Time) bool {
	for _, q := range idx.byField[name] {
		if q.Status != model.QueryStatusResolved {
			continue
		}
		resolvedAt := q.CreatedAt
		if q.ResolvedAt != nil {
			resolvedAt = *q.ResolvedAt
		}
		if resolvedAt.After(lastViewed) {
			return true
		}
	}
	return false
}

// OpenCount returns the number of open threads.
func (idx Index) OpenCount() int {
	return idx.open
}

// Total returns the number of threads.
func (idx Index) Total() int {
	return idx.total
}

// OpenFields returns the fields with open threads, sorted.
func (idx Index) OpenFields() []string {
	var names []string
	for _, name := range idx.Fields() {
		if idx.HasOpen(name) {
			names = append(names, name)
		}
	}
	return names
}

// Overdue returns the open threads created at least sla before now.
func (idx Index) Overdue(now time.Time, sla time.Duration) []model.QueryThread {
	var out []model.QueryThread
	for _, name := range idx.Fields() {
		for _, q := range idx.byField[name] {
			if q.IsOpen() && now.Sub(q.CreatedAt) >= sla {
				out = append(out, q)
			}
		}
	}
	return out
}
