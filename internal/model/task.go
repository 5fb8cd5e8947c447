package model

import "strconv"

// Task is one unit of engine work: a record and its position in the input.
type Task struct {
	Index  int
	Record Record

	// dup marks a record whose id is shared with another record of the
	// same input.
	dup bool
}

// Key identifies the task in logs, the run ledger and error records. The
// record id is used when present and unique in the input, "id#index" when
// the id repeats, and "#index" when there is no id.
func (t Task) Key() string {
	id := t.Record.ID()
	switch {
	case id == "":
		return "#" + strconv.Itoa(t.Index)
	case t.dup:
		return id + "#" + strconv.Itoa(t.Index)
	default:
		return id
	}
}

// NewTasks numbers records in input order and marks repeated ids so every
// task gets a distinct key.
func NewTasks(records []Record) []Task {
	seen := make(map[string]int, len(records))
	for _, r := range records {
		if id := r.ID(); id != "" {
			seen[id]++
		}
	}

	tasks := make([]Task, len(records))
	for i, r := range records {
		tasks[i] = Task{Index: i, Record: r, dup: seen[r.ID()] > 1}
	}
	return tasks
}
