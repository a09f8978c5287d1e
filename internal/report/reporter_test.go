package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, FaultKind(""), KindOf(nil))
	assert.Equal(t, KindSkippableRow, KindOf(&SkippableRowError{SKU: "A", Reason: "no sku"}))
	assert.Equal(t, KindConsistency, KindOf(&ConsistencyFault{SKU: "A"}))
	assert.Equal(t, KindConnectivity, KindOf(&ConnectivityFault{Collaborator: "db", Err: base}))
	assert.Equal(t, KindUpload, KindOf(fmt.Errorf("cycle: %w", &UploadFault{Side: "create", Err: base})))
	assert.Equal(t, KindImage, KindOf(&ImageFault{Phase: PhaseBind, Err: base}))
	assert.Equal(t, KindUnknown, KindOf(base))
}

func TestFaultsUnwrap(t *testing.T) {
	base := errors.New("timeout")

	assert.ErrorIs(t, &UploadFault{Err: base}, base)
	assert.ErrorIs(t, &ConnectivityFault{Err: base}, base)
	assert.ErrorIs(t, &ImageFault{Err: base}, base)
}

func TestRecorder_Faults(t *testing.T) {
	rec := &Recorder{}

	Info(rec, "started", nil)
	Skip(rec, "A100", "missing name")
	Fault(rec, &ConsistencyFault{SKU: "B200", Reason: "duplicate"}, nil)

	assert.Len(t, rec.Records(), 3)
	assert.Equal(t, 2, rec.FaultCount())
	require.Len(t, rec.Faults(KindSkippableRow), 1)
	assert.Equal(t, LevelWarn, rec.Faults(KindSkippableRow)[0].Level)
	assert.Len(t, rec.Faults(KindConsistency), 1)
}

func TestTee(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	r := Tee(a, nil, b)

	Warn(r, "busy", nil)

	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

func TestLogReporter_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	cycleID := uuid.New()
	r := NewLogReporter(logger.WithField("component", "test"))
	r.Report(Record{
		CycleID: cycleID,
		Level:   LevelError,
		Message: "image failed",
		Err:     &ImageFault{SKU: "A100", Phase: PhaseUpload, Err: errors.New("500")},
		Fields:  map[string]interface{}{"sku": "A100"},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "image failed", entry["msg"])
	assert.Equal(t, "IMAGE", entry["fault"])
	assert.Equal(t, cycleID.String(), entry["cycle_id"])
	assert.Equal(t, "A100", entry["sku"])
	assert.Equal(t, "test", entry["component"])
}
