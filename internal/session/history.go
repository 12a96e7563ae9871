package session

import (
	"reflect"

	"scoremark/internal/annotation"
)

// maxHistory bounds the undo stack.
const maxHistory = 200

// measureState is everything stored about one measure.
type measureState struct {
	Measure   int
	Labels    [][]annotation.Label
	Irregular []annotation.IrregularBox
}

// edit is one undoable change, as the state of the touched measures before
// and after it.
type edit struct {
	before []measureState
	after  []measureState
}

type history struct {
	undo []edit
	redo []edit
}

func (h *history) push(e edit) {
	if reflect.DeepEqual(e.before, e.after) {
		return
	}
	h.undo = append(h.undo, e)
	if len(h.undo) > maxHistory {
		h.undo = h.undo[len(h.undo)-maxHistory:]
	}
	h.redo = nil
}

func (c *Controller) snapshot(measures []int) []measureState {
	irregular := c.store.Irregular(c.sc)
	states := make([]measureState, 0, len(measures))
	for _, n := range measures {
		states = append(states, measureState{
			Measure:   n,
			Labels:    c.store.MeasureLabels(c.sc, n),
			Irregular: irregular[n],
		})
	}
	return states
}

func (c *Controller) restore(states []measureState) {
	for _, st := range states {
		c.store.RestoreMeasure(c.sc, st.Measure, st.Labels)
		c.store.SetIrregular(c.sc, st.Measure, st.Irregular)
		c.redrawMeasure(st.Measure)
	}
	c.checkCompletion()
	c.drawSelection()
}

// Undo reverts the last labelling change. The cursor does not move.
func (c *Controller) Undo() {
	if len(c.history.undo) == 0 {
		return
	}
	last := len(c.history.undo) - 1
	e := c.history.undo[last]
	c.history.undo = c.history.undo[:last]

	c.restore(e.before)
	c.history.redo = append(c.history.redo, e)
}

// Redo reapplies the last undone change.
func (c *Controller) Redo() {
	if len(c.history.redo) == 0 {
		return
	}
	last := len(c.history.redo) - 1
	e := c.history.redo[last]
	c.history.redo = c.history.redo[:last]

	c.restore(e.after)
	c.history.undo = append(c.history.undo, e)
}
