package annotation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"scoremark/internal/kvstore"
	"scoremark/internal/logging"
	"scoremark/internal/score"
)

// IrregularPrefix prefixes the storage key of a score's irregular boxes.
const IrregularPrefix = "irregularBoxes_"

// IrregularKey returns the storage key of scoreID's irregular boxes.
func IrregularKey(scoreID string) string {
	return IrregularPrefix + scoreID
}

// Store is the single source of truth for annotation state.
//
// Every mutation works on a copy of the record, persists it and only then
// publishes it, so callers never observe a half-applied change. Storage
// failures are logged and otherwise ignored: a bad write must not end the
// annotation session.
type Store struct {
	kv    kvstore.Store
	cache *cache.Cache
	now   func() time.Time
	log   *slog.Logger
	ttl   time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithCacheTTL sets how long decoded records stay in memory. Zero or less
// keeps them until the store is dropped.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore creates a store over kv.
func NewStore(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now, ttl: 10 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Module(s.log, "store")
	if s.ttl > 0 {
		s.cache = cache.New(s.ttl, 2*s.ttl)
	} else {
		s.cache = cache.New(cache.NoExpiration, 0)
	}
	return s
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func usable(sc *score.Score) bool {
	return sc != nil && sc.Layout != nil && len(sc.Layout.Measures) > 0
}

// record returns the cached record, loading or initializing it on a miss.
// The result must not be modified.
func (s *Store) record(sc *score.Score) *Record {
	if v, ok := s.cache.Get(sc.ID); ok {
		return v.(*Record)
	}
	rec := s.read(sc)
	s.cache.SetDefault(sc.ID, rec)
	return rec
}

func (s *Store) read(sc *score.Score) *Record {
	data, err := s.kv.Get(sc.ID)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		s.log.Info("initializing annotation record", "score", sc.ID)
	case err != nil:
		s.log.Warn("reading annotation record failed, starting fresh", "score", sc.ID, "error", err)
	default:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("malformed annotation record, starting fresh", "score", sc.ID, "error", err)
			break
		}
		if rec.reshape(sc.Layout) {
			s.log.Warn("annotation record did not match the layout, reshaped", "score", sc.ID)
			s.persist(sc.ID, &rec)
		}
		return &rec
	}
	rec := NewRecord(sc.Layout, s.nowMillis())
	s.persist(sc.ID, rec)
	return rec
}

func (s *Store) persist(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encoding failed", "key", key, "error", err)
		return
	}
	if err := s.kv.Put(key, data); err != nil {
		s.log.Error("persisting failed", "key", key, "error", err)
	}
}

// update applies fn to a copy of the record and commits it when fn reports
// a change.
func (s *Store) update(sc *score.Score, fn func(rec *Record) bool) {
	if !usable(sc) {
		return
	}
	next := s.record(sc).Clone()
	if !fn(next) {
		return
	}
	s.persist(sc.ID, next)
	s.cache.SetDefault(sc.ID, next)
}

// Get returns a copy of the score's record, creating an all-None record
// first if none exists.
func (s *Store) Get(sc *score.Score) *Record {
	if !usable(sc) {
		return &Record{Measures: map[int][][]Label{}}
	}
	return s.record(sc).Clone()
}

// SetNote labels a single note. Out-of-range indices are ignored.
func (s *Store) SetNote(sc *score.Score, measure, staff, note int, label Label) {
	if !label.Valid() {
		return
	}
	s.update(sc, func(rec *Record) bool {
		rows, ok := rec.Measures[measure]
		if !ok || staff < 0 || staff >= len(rows) || note < 0 || note >= len(rows[staff]) {
			return false
		}
		rows[staff][note] = label
		return true
	})
}

// SetMeasureRange labels every note of the given measures. Measures outside
// [First, Last] are skipped.
func (s *Store) SetMeasureRange(sc *score.Score, measures []int, label Label) {
	if !label.Valid() {
		return
	}
	s.update(sc, func(rec *Record) bool {
		changed := false
		for _, n := range measures {
			if !sc.Layout.InRange(n) {
				continue
			}
			for _, row := range rec.Measures[n] {
				for i := range row {
					row[i] = label
					changed = true
				}
			}
		}
		return changed
	})
}

// SetRange labels the notes of one staff whose x position lies within
// [xMin, xMax].
func (s *Store) SetRange(sc *score.Score, measure, staff int, xMin, xMax float64, label Label) {
	if !label.Valid() {
		return
	}
	s.update(sc, func(rec *Record) bool {
		m, ok := sc.Layout.Measure(measure)
		rows := rec.Measures[measure]
		if !ok || staff < 0 || staff >= len(m) || staff >= len(rows) {
			return false
		}
		changed := false
		for i, e := range m[staff].Entries {
			if i < len(rows[staff]) && xMin <= e.X && e.X <= xMax {
				rows[staff][i] = label
				changed = true
			}
		}
		return changed
	})
}

// RestoreMeasure replaces a measure's labels. Rows that do not fit the
// layout are clipped or padded with None.
func (s *Store) RestoreMeasure(sc *score.Score, measure int, rows [][]Label) {
	s.update(sc, func(rec *Record) bool {
		m, ok := sc.Layout.Measure(measure)
		if !ok {
			return false
		}
		next := emptyRows(m)
		for st := range next {
			if st < len(rows) {
				copy(next[st], rows[st])
			}
		}
		rec.Measures[measure] = next
		return true
	})
}

// Clear resets every note to None and restarts time accounting. The
// irregular boxes go with it.
func (s *Store) Clear(sc *score.Score) {
	if !usable(sc) {
		return
	}
	rec := NewRecord(sc.Layout, s.nowMillis())
	s.persist(sc.ID, rec)
	s.cache.SetDefault(sc.ID, rec)
	s.writeIrregular(sc.ID, IrregularRecord{})
}

// MarkCorrupted flags the score so that saving writes a sentinel instead of
// the annotations.
func (s *Store) MarkCorrupted(sc *score.Score) {
	s.update(sc, func(rec *Record) bool {
		if rec.IsCorrupted {
			return false
		}
		rec.IsCorrupted = true
		return true
	})
}

// BeginSession marks the start of an editing session without adding any
// time. Idle time between sessions is never counted.
func (s *Store) BeginSession(sc *score.Score) {
	s.update(sc, func(rec *Record) bool {
		rec.StartTime = s.nowMillis()
		return true
	})
}

// RecordElapsed adds the time since the last mark to the annotation time
// and moves the mark to now.
func (s *Store) RecordElapsed(sc *score.Score) {
	s.update(sc, func(rec *Record) bool {
		now := s.nowMillis()
		if elapsed := now - rec.StartTime; elapsed > 0 {
			rec.AnnotationTime += elapsed
		}
		rec.StartTime = now
		return true
	})
}

// IsMeasureUniform reports whether every note of every staff of the measure
// carries the same label. An unannotated measure is uniform.
func (s *Store) IsMeasureUniform(sc *score.Score, measure int) bool {
	_, ok := s.UniformLabel(sc, measure)
	return ok
}

// UniformLabel returns the label shared by all notes of the measure.
func (s *Store) UniformLabel(sc *score.Score, measure int) (Label, bool) {
	if !usable(sc) || !sc.Layout.InRange(measure) {
		return None, false
	}
	return s.record(sc).Uniform(measure)
}

// IsFullyAnnotated reports whether no note from the first to the last
// measure is None.
func (s *Store) IsFullyAnnotated(sc *score.Score) bool {
	if !usable(sc) {
		return false
	}
	rec := s.record(sc)
	for _, n := range sc.Layout.MeasureNumbers() {
		for _, row := range rec.Measures[n] {
			for _, l := range row {
				if l == None {
					return false
				}
			}
		}
	}
	return true
}

// MeasureLabels returns a copy of a measure's labels, one row per staff.
func (s *Store) MeasureLabels(sc *score.Score, measure int) [][]Label {
	if !usable(sc) {
		return nil
	}
	return cloneRows(s.record(sc).Measures[measure])
}

// LastAnnotated returns the highest measure holding any label.
func (s *Store) LastAnnotated(sc *score.Score) (int, bool) {
	if !usable(sc) {
		return 0, false
	}
	rec := s.record(sc)
	nums := sc.Layout.MeasureNumbers()
	for i := len(nums) - 1; i >= 0; i-- {
		if rec.Annotated(nums[i]) {
			return nums[i], true
		}
	}
	return 0, false
}

// Irregular returns a copy of the score's irregular boxes.
func (s *Store) Irregular(sc *score.Score) IrregularRecord {
	if !usable(sc) {
		return IrregularRecord{}
	}
	return s.irregular(sc.ID).Clone()
}

func (s *Store) irregular(scoreID string) IrregularRecord {
	key := IrregularKey(scoreID)
	if v, ok := s.cache.Get(key); ok {
		return v.(IrregularRecord)
	}
	ir := IrregularRecord{}
	data, err := s.kv.Get(key)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		s.log.Warn("reading irregular boxes failed", "score", scoreID, "error", err)
	default:
		if err := json.Unmarshal(data, &ir); err != nil {
			s.log.Warn("malformed irregular boxes, dropping them", "score", scoreID, "error", err)
			ir = IrregularRecord{}
		}
	}
	s.cache.SetDefault(key, ir)
	return ir
}

func (s *Store) writeIrregular(scoreID string, ir IrregularRecord) {
	key := IrregularKey(scoreID)
	s.persist(key, ir)
	s.cache.SetDefault(key, ir)
}

// SetIrregular replaces the irregular boxes of a measure. An empty list
// removes the entry.
func (s *Store) SetIrregular(sc *score.Score, measure int, boxes []IrregularBox) {
	if !usable(sc) || !sc.Layout.InRange(measure) {
		return
	}
	ir := s.irregular(sc.ID).Clone()
	if len(boxes) == 0 {
		if _, ok := ir[measure]; !ok {
			return
		}
		delete(ir, measure)
	} else {
		ir[measure] = append([]IrregularBox(nil), boxes...)
	}
	s.writeIrregular(sc.ID, ir)
}

// DropIrregular forgets the irregular boxes of a measure.
func (s *Store) DropIrregular(sc *score.Score, measure int) {
	s.SetIrregular(sc, measure, nil)
}

// Forget evicts a score from memory. The persisted state is untouched.
func (s *Store) Forget(scoreID string) {
	s.cache.Delete(scoreID)
	s.cache.Delete(IrregularKey(scoreID))
}
