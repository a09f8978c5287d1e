package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Level is the severity of a record
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Record is one observation emitted by the engine
type Record struct {
	CycleID uuid.UUID
	Level   Level
	Message string
	Err     error
	Fields  map[string]interface{}
	At      time.Time
}

// Kind returns the fault kind of the record's error, if any
func (r Record) Kind() FaultKind {
	return KindOf(r.Err)
}

// Reporter receives records. Implementations must not block the caller.
type Reporter interface {
	Report(rec Record)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(rec Record)

func (f ReporterFunc) Report(rec Record) { f(rec) }

// Nop discards everything
var Nop Reporter = ReporterFunc(func(Record) {})

// Debug reports a detail message
func Debug(r Reporter, msg string, fields map[string]interface{}) {
	r.Report(Record{Level: LevelDebug, Message: msg, Fields: fields, At: time.Now()})
}

// Info reports an informational message
func Info(r Reporter, msg string, fields map[string]interface{}) {
	r.Report(Record{Level: LevelInfo, Message: msg, Fields: fields, At: time.Now()})
}

// Warn reports a warning
func Warn(r Reporter, msg string, fields map[string]interface{}) {
	r.Report(Record{Level: LevelWarn, Message: msg, Fields: fields, At: time.Now()})
}

// Fault reports err at error level
func Fault(r Reporter, err error, fields map[string]interface{}) {
	r.Report(Record{Level: LevelError, Message: err.Error(), Err: err, Fields: fields, At: time.Now()})
}

// Skip reports a skipped row at warn level
func Skip(r Reporter, sku, reason string) {
	err := &SkippableRowError{SKU: sku, Reason: reason}
	r.Report(Record{Level: LevelWarn, Message: err.Error(), Err: err, At: time.Now()})
}

// LogReporter writes records as structured logrus entries
type LogReporter struct {
	logger *logrus.Entry
}

// NewLogReporter creates a reporter writing to logger
func NewLogReporter(logger *logrus.Entry) *LogReporter {
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Report(rec Record) {
	entry := l.logger
	if len(rec.Fields) > 0 {
		entry = entry.WithFields(logrus.Fields(rec.Fields))
	}
	if rec.CycleID != uuid.Nil {
		entry = entry.WithField("cycle_id", rec.CycleID.String())
	}
	if rec.Err != nil {
		entry = entry.WithField("fault", string(rec.Kind()))
	}

	switch rec.Level {
	case LevelDebug:
		entry.Debug(rec.Message)
	case LevelWarn:
		entry.Warn(rec.Message)
	case LevelError:
		entry.Error(rec.Message)
	default:
		entry.Info(rec.Message)
	}
}

// Tee fans records out to several reporters
func Tee(reporters ...Reporter) Reporter {
	return ReporterFunc(func(rec Record) {
		for _, r := range reporters {
			if r != nil {
				r.Report(rec)
			}
		}
	})
}

// Recorder keeps every record in memory. Used by tests and by the
// cycle to count faults.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Report(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything reported so far
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Faults returns the records carrying an error of the given kind
func (r *Recorder) Faults(kind FaultKind) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Err != nil && rec.Kind() == kind {
			out = append(out, rec)
		}
	}
	return out
}

// FaultCount returns the number of records carrying an error
func (r *Recorder) FaultCount() int {
	n := 0
	for _, rec := range r.Records() {
		if rec.Err != nil {
			n++
		}
	}
	return n
}
