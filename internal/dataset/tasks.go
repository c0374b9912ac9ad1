package dataset

// Task is one row of meta/tasks.jsonl.
type Task struct {
	Index int    `json:"task_index"`
	Label string `json:"task"`
}

// TaskTable is a bijection between contiguous task indices and label strings.
// Indices are assigned in first-seen order starting at 0.
type TaskTable struct {
	labels []string
	index  map[string]int
}

// NewTaskTable returns an empty table.
func NewTaskTable() *TaskTable {
	return &TaskTable{index: make(map[string]int)}
}

// Add registers label and returns its index. Labels already present keep
// their existing index.
func (t *TaskTable) Add(label string) int {
	if idx, ok := t.index[label]; ok {
		return idx
	}
	idx := len(t.labels)
	t.labels = append(t.labels, label)
	t.index[label] = idx
	return idx
}

// Index returns the index for label.
func (t *TaskTable) Index(label string) (int, bool) {
	idx, ok := t.index[label]
	return idx, ok
}

// Label returns the label at idx.
func (t *TaskTable) Label(idx int) (string, bool) {
	if idx < 0 || idx >= len(t.labels) {
		return "", false
	}
	return t.labels[idx], true
}

// Len returns the number of distinct labels.
func (t *TaskTable) Len() int { return len(t.labels) }

// Tasks returns the table in index order.
func (t *TaskTable) Tasks() []Task {
	out := make([]Task, len(t.labels))
	for i, label := range t.labels {
		out[i] = Task{Index: i, Label: label}
	}
	return out
}
