package report

import (
	"errors"
	"fmt"
)

// FaultKind classifies a fault raised during a cycle
type FaultKind string

const (
	KindSkippableRow FaultKind = "SKIPPABLE_ROW"
	KindConsistency  FaultKind = "CONSISTENCY"
	KindConnectivity FaultKind = "CONNECTIVITY"
	KindUpload       FaultKind = "UPLOAD"
	KindImage        FaultKind = "IMAGE"
	KindUnknown      FaultKind = "UNKNOWN"
)

// SkippableRowError marks a single input row that was left out of the cycle
type SkippableRowError struct {
	SKU    string
	Reason string
}

func (e *SkippableRowError) Error() string {
	if e.SKU == "" {
		return fmt.Sprintf("skipped row: %s", e.Reason)
	}
	return fmt.Sprintf("skipped row %s: %s", e.SKU, e.Reason)
}

// ConsistencyFault marks a cache entry that disagrees with what the remote reported
type ConsistencyFault struct {
	SKU      string
	RemoteID int64
	Reason   string
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("cache consistency fault (sku=%q remote_id=%d): %s", e.SKU, e.RemoteID, e.Reason)
}

// ConnectivityFault marks an unreachable collaborator
type ConnectivityFault struct {
	Collaborator string
	Err          error
}

func (e *ConnectivityFault) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Collaborator, e.Err)
}

func (e *ConnectivityFault) Unwrap() error { return e.Err }

// UploadFault marks a failed batch chunk; the whole upload is discarded
type UploadFault struct {
	Side   string
	Chunk  int
	Chunks int
	Err    error
}

func (e *UploadFault) Error() string {
	return fmt.Sprintf("batch upload failed on %s chunk %d/%d: %v", e.Side, e.Chunk, e.Chunks, e.Err)
}

func (e *UploadFault) Unwrap() error { return e.Err }

// ImagePhase is the step of the image workflow that failed
type ImagePhase string

const (
	PhasePrecheck ImagePhase = "precheck"
	PhaseFetch    ImagePhase = "fetch"
	PhaseUpload   ImagePhase = "upload"
	PhaseBind     ImagePhase = "bind"
	PhaseUpdate   ImagePhase = "update"
)

// ImageFault marks a failed image step for one product
type ImageFault struct {
	SKU      string
	RemoteID int64
	Index    int
	Phase    ImagePhase
	Err      error
}

func (e *ImageFault) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("image %d of %s (remote_id=%d) failed at %s: %v", e.Index, e.SKU, e.RemoteID, e.Phase, e.Err)
	}
	return fmt.Sprintf("images of %s (remote_id=%d) failed at %s: %v", e.SKU, e.RemoteID, e.Phase, e.Err)
}

func (e *ImageFault) Unwrap() error { return e.Err }

// KindOf classifies err by the fault type it wraps
func KindOf(err error) FaultKind {
	var (
		skip   *SkippableRowError
		cons   *ConsistencyFault
		conn   *ConnectivityFault
		upload *UploadFault
		image  *ImageFault
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &skip):
		return KindSkippableRow
	case errors.As(err, &cons):
		return KindConsistency
	case errors.As(err, &conn):
		return KindConnectivity
	case errors.As(err, &upload):
		return KindUpload
	case errors.As(err, &image):
		return KindImage
	}
	return KindUnknown
}
