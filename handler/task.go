package handler

import (
	"math"
	"time"
)

// KindField is the discriminator field every task carries.
const KindField = "task"

// Task is a unit of queued work. Values must be representable by the store
// codec: strings, numbers, bools, []byte, nil, slices and nested Tasks.
type Task map[string]any

// NewTask creates a task of the given kind with the given payload fields.
func NewTask(kind string, fields map[string]any) Task {
	t := make(Task, len(fields)+1)
	for k, v := range fields {
		t[k] = v
	}
	t[KindField] = kind
	return t
}

// FromValue converts a decoded queue value into a Task. It reports false if
// the value is not a string-keyed mapping.
func FromValue(v any) (Task, bool) {
	switch m := v.(type) {
	case Task:
		return m, true
	case map[string]any:
		return Task(m), true
	default:
		return nil, false
	}
}

// Kind returns the task discriminator, or "" if it is missing or not a string.
func (t Task) Kind() string {
	switch k := t[KindField].(type) {
	case string:
		return k
	case []byte:
		return string(k)
	default:
		return ""
	}
}

// Number returns a numeric payload field as float64.
func (t Task) Number(field string) (float64, bool) {
	switch n := t[field].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Time returns a field holding Unix seconds as a time.Time.
func (t Task) Time(field string) (time.Time, bool) {
	secs, ok := t.Number(field)
	if !ok || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// Clone returns a shallow copy of the task.
func (t Task) Clone() Task {
	c := make(Task, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// UnixSeconds converts a time into the float Unix seconds tasks carry.
func UnixSeconds(at time.Time) float64 {
	return float64(at.UnixNano()) / 1e9
}
