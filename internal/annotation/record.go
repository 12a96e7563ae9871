package annotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"scoremark/internal/score"
)

const (
	measurePrefix = "measure-"
	staffPrefix   = "staff-"
	notePrefix    = "note-"
)

// Record is the persisted annotation state of one score.
//
// Measures maps a measure number to its staves, each staff holding one
// label per staff entry.
type Record struct {
	Measures       map[int][][]Label
	IsCorrupted    bool
	StartTime      int64 // unix milliseconds of the current editing session start
	AnnotationTime int64 // cumulative editing time in milliseconds
}

// NewRecord returns an all-None record shaped after layout.
func NewRecord(layout *score.Layout, now int64) *Record {
	r := &Record{Measures: make(map[int][][]Label), StartTime: now}
	for _, n := range layout.MeasureNumbers() {
		m, ok := layout.Measure(n)
		if !ok {
			continue
		}
		r.Measures[n] = emptyRows(m)
	}
	return r
}

func emptyRows(m score.Measure) [][]Label {
	rows := make([][]Label, len(m))
	for s, st := range m {
		rows[s] = make([]Label, len(st.Entries))
	}
	return rows
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Measures = make(map[int][][]Label, len(r.Measures))
	for n, rows := range r.Measures {
		c.Measures[n] = cloneRows(rows)
	}
	return &c
}

func cloneRows(rows [][]Label) [][]Label {
	out := make([][]Label, len(rows))
	for i, row := range rows {
		out[i] = append([]Label(nil), row...)
	}
	return out
}

// reshape conforms the record to layout. Labels at valid positions are kept,
// missing notes become None and anything the layout does not have is
// dropped. It reports whether anything changed.
func (r *Record) reshape(layout *score.Layout) bool {
	changed := false
	shaped := make(map[int][][]Label, len(r.Measures))
	for _, n := range layout.MeasureNumbers() {
		m, ok := layout.Measure(n)
		if !ok {
			continue
		}
		rows := emptyRows(m)
		old, had := r.Measures[n]
		if !had || len(old) != len(rows) {
			changed = true
		}
		for s := range rows {
			if s >= len(old) {
				continue
			}
			if len(old[s]) != len(rows[s]) {
				changed = true
			}
			copy(rows[s], old[s])
		}
		shaped[n] = rows
	}
	if len(shaped) != len(r.Measures) {
		changed = true
	}
	r.Measures = shaped
	return changed
}

// MarshalJSON writes the nested "measure-n" / "staff-s" / "note-i" layout
// used by annotation files.
func (r *Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Measures)+3)
	for n, rows := range r.Measures {
		staves := make(map[string]map[string]Label, len(rows))
		for s, row := range rows {
			notes := make(map[string]Label, len(row))
			for i, l := range row {
				notes[notePrefix+strconv.Itoa(i)] = l
			}
			staves[staffPrefix+strconv.Itoa(s)] = notes
		}
		doc[measurePrefix+strconv.Itoa(n)] = staves
	}
	doc["isCorrupted"] = r.IsCorrupted
	doc["startTime"] = r.StartTime
	doc["annotationTime"] = r.AnnotationTime
	return json.Marshal(doc)
}

// UnmarshalJSON reads the nested layout written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := Record{Measures: make(map[int][][]Label)}
	for key, raw := range doc {
		switch key {
		case "isCorrupted":
			if err := json.Unmarshal(raw, &out.IsCorrupted); err != nil {
				return fmt.Errorf("isCorrupted: %w", err)
			}
		case "startTime":
			if err := json.Unmarshal(raw, &out.StartTime); err != nil {
				return fmt.Errorf("startTime: %w", err)
			}
		case "annotationTime":
			if err := json.Unmarshal(raw, &out.AnnotationTime); err != nil {
				return fmt.Errorf("annotationTime: %w", err)
			}
		default:
			n, ok := indexAfter(key, measurePrefix)
			if !ok {
				continue
			}
			rows, err := decodeStaves(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			out.Measures[n] = rows
		}
	}
	*r = out
	return nil
}

func decodeStaves(raw json.RawMessage) ([][]Label, error) {
	var staves map[string]map[string]Label
	if err := json.Unmarshal(raw, &staves); err != nil {
		return nil, err
	}
	rows := make([][]Label, len(staves))
	for key, notes := range staves {
		s, ok := indexAfter(key, staffPrefix)
		if !ok || s >= len(staves) {
			return nil, fmt.Errorf("unexpected staff key %q", key)
		}
		row := make([]Label, len(notes))
		for nk, l := range notes {
			i, ok := indexAfter(nk, notePrefix)
			if !ok || i >= len(notes) {
				return nil, fmt.Errorf("unexpected note key %q", nk)
			}
			row[i] = l
		}
		rows[s] = row
	}
	return rows, nil
}

func indexAfter(key, prefix string) (int, bool) {
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// MeasureNumbers returns the record's measure numbers in ascending order.
func (r *Record) MeasureNumbers() []int {
	nums := make([]int, 0, len(r.Measures))
	for n := range r.Measures {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Uniform returns the label shared by every note of measure n. A measure
// without notes is uniformly None.
func (r *Record) Uniform(n int) (Label, bool) {
	return UniformRows(r.Measures[n])
}

// UniformRows returns the label shared by every entry of rows.
func UniformRows(rows [][]Label) (Label, bool) {
	first, seen := None, false
	for _, row := range rows {
		for _, l := range row {
			if !seen {
				first, seen = l, true
				continue
			}
			if l != first {
				return None, false
			}
		}
	}
	return first, true
}

// Annotated reports whether any note of measure n carries a label.
func (r *Record) Annotated(n int) bool {
	for _, row := range r.Measures[n] {
		for _, l := range row {
			if l != None {
				return true
			}
		}
	}
	return false
}

// IrregularBox is a hand-drawn sub-measure highlight in overlay pixels. The
// Middle fields describe the companion box bridging the gap to the next
// staff.
type IrregularBox struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Height       float64 `json:"height"`
	Width        float64 `json:"width"`
	YMiddle      float64 `json:"yMiddle"`
	HeightMiddle float64 `json:"heightMiddle"`
	Color        Color   `json:"color"`
}

// IrregularRecord maps a measure number to the boxes drawn in it.
type IrregularRecord map[int][]IrregularBox

// Clone returns a deep copy.
func (ir IrregularRecord) Clone() IrregularRecord {
	out := make(IrregularRecord, len(ir))
	for n, boxes := range ir {
		out[n] = append([]IrregularBox(nil), boxes...)
	}
	return out
}
