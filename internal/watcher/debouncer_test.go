package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatch(t *testing.T, d *Debouncer) []Event {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
		return nil
	}
}

func add(d *Debouncer, path string, op Op) {
	d.Add(Event{Path: path, Op: op, At: time.Now()})
}

func TestResolve_CoalescingTable(t *testing.T) {
	tests := []struct {
		name        string
		first, last Op
		want        Op
		keep        bool
	}{
		{"create then modify is still a create", OpCreate, OpModify, OpCreate, true},
		{"create then remove never existed", OpCreate, OpRemove, 0, false},
		{"create then rename never existed here", OpCreate, OpRename, 0, false},
		{"modify then remove is a remove", OpModify, OpRemove, OpRemove, true},
		{"remove then create is a replacement", OpRemove, OpCreate, OpModify, true},
		{"remove then modify is a replacement", OpRemove, OpModify, OpModify, true},
		{"lone create", OpCreate, OpCreate, OpCreate, true},
		{"lone modify", OpModify, OpModify, OpModify, true},
		{"lone remove", OpRemove, OpRemove, OpRemove, true},
		{"lone rename", OpRename, OpRename, OpRename, true},
		{"rules change passes through", OpRulesChange, OpRulesChange, OpRulesChange, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := resolve(tt.first, tt.last)
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDebouncer_CoalescesPerPath(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	add(d, "a.go", OpCreate)
	add(d, "a.go", OpModify)
	add(d, "a.go", OpModify)

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "a.go", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Op)
}

func TestDebouncer_CreateRemoveCancelsOut(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	add(d, "tmp.go", OpCreate)
	add(d, "keep.go", OpModify)
	add(d, "tmp.go", OpRemove)

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "keep.go", batch[0].Path)
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	add(d, "zeta.go", OpModify)
	add(d, "alpha.go", OpModify)
	add(d, "mid.go", OpModify)

	batch := collectBatch(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, []string{"alpha.go", "mid.go", "zeta.go"},
		[]string{batch[0].Path, batch[1].Path, batch[2].Path})
}

func TestDebouncer_SeparateWindowsSeparateBatches(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	add(d, "a.go", OpModify)
	first := collectBatch(t, d)
	require.Len(t, first, 1)

	add(d, "a.go", OpRemove)
	second := collectBatch(t, d)
	require.Len(t, second, 1)
	assert.Equal(t, OpRemove, second[0].Op, "a fresh window starts a fresh pair")
}

func TestDebouncer_SetWindowAffectsNextFlush(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	d.SetWindow(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, d.Window())

	add(d, "a.go", OpModify)
	batch := collectBatch(t, d)
	assert.Len(t, batch, 1)
}

func TestDebouncer_StopClosesOutputAndDropsPending(t *testing.T) {
	d := NewDebouncer(time.Hour)
	add(d, "a.go", OpModify)
	d.Stop()
	d.Stop() // idempotent

	_, open := <-d.Output()
	assert.False(t, open)

	// Adds after stop are no-ops, not panics.
	add(d, "b.go", OpModify)
}
