package types

import (
	"errors"
	"fmt"
	"time"
)

// ReasonCode is the machine-readable cause attached to every skip or failure.
type ReasonCode string

const (
	ReasonUnreadable                 ReasonCode = "Unreadable"
	ReasonSkipped                    ReasonCode = "Skipped"
	ReasonHeterogeneousFeatureVector ReasonCode = "HeterogeneousFeatureVector"
	ReasonBackupFailed               ReasonCode = "BackupFailed"
	ReasonBackupDirUnwritable        ReasonCode = "BackupDirUnwritable"
	ReasonClusteringNonconvergent    ReasonCode = "ClusteringNonconvergent"
	ReasonRequiresReview             ReasonCode = "RequiresReview"
	ReasonCanonicalMissing           ReasonCode = "CanonicalMissing"
	ReasonDeleteFailed               ReasonCode = "DeleteFailed"
	ReasonInconsistent               ReasonCode = "InconsistentRecommendation"
	ReasonCanceled                   ReasonCode = "Canceled"
	ReasonReferenceCheckFailed       ReasonCode = "ReferenceCheckFailed"
)

// Sentinel errors, one per reason code that can surface as an error.
var (
	ErrUnreadable                 = errors.New("file unreadable")
	ErrSkipped                    = errors.New("file skipped")
	ErrHeterogeneousFeatureVector = errors.New("feature vectors have different dimensionality")
	ErrBackupFailed               = errors.New("backup failed")
	ErrBackupDirUnwritable        = errors.New("backup directory is not writable")
	ErrClusteringNonconvergent    = errors.New("clustering did not converge")
	ErrRequiresReview             = errors.New("group requires manual review")
	ErrCanonicalMissing           = errors.New("canonical file is missing")
	ErrDeleteFailed               = errors.New("delete failed")
	ErrInconsistent               = errors.New("recommendation automatic flag does not match its confidence")
	ErrReferenceCheckFailed       = errors.New("reference check failed")

	// ErrStageTimeout is matched by every *StageTimeoutError
	ErrStageTimeout = errors.New("stage timed out")
)

var reasonErrors = map[ReasonCode]error{
	ReasonUnreadable:                 ErrUnreadable,
	ReasonSkipped:                    ErrSkipped,
	ReasonHeterogeneousFeatureVector: ErrHeterogeneousFeatureVector,
	ReasonBackupFailed:               ErrBackupFailed,
	ReasonBackupDirUnwritable:        ErrBackupDirUnwritable,
	ReasonClusteringNonconvergent:    ErrClusteringNonconvergent,
	ReasonRequiresReview:             ErrRequiresReview,
	ReasonCanonicalMissing:           ErrCanonicalMissing,
	ReasonDeleteFailed:               ErrDeleteFailed,
	ReasonInconsistent:               ErrInconsistent,
	ReasonReferenceCheckFailed:       ErrReferenceCheckFailed,
}

// Sentinel returns the sentinel error for a reason code, or nil.
func (r ReasonCode) Sentinel() error {
	return reasonErrors[r]
}

// FileError attributes a per-file failure to a path.
type FileError struct {
	Path   string     `json:"path"`
	Reason ReasonCode `json:"reason"`
	Detail string     `json:"detail,omitempty"`
	Err    error      `json:"-"`
}

// NewFileError builds a FileError. err may be nil when detail explains the cause.
func NewFileError(path string, reason ReasonCode, detail string, err error) *FileError {
	return &FileError{Path: path, Reason: reason, Detail: detail, Err: err}
}

func (e *FileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Path, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel for the reason code.
func (e *FileError) Is(target error) bool {
	return target != nil && target == e.Reason.Sentinel()
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// GroupError attributes a per-group failure to a group ID.
type GroupError struct {
	GroupID string     `json:"group_id"`
	Path    string     `json:"path,omitempty"`
	Reason  ReasonCode `json:"reason"`
	Err     error      `json:"-"`
}

// NewGroupError builds a GroupError. path is optional.
func NewGroupError(groupID, path string, reason ReasonCode, err error) *GroupError {
	return &GroupError{GroupID: groupID, Path: path, Reason: reason, Err: err}
}

func (e *GroupError) Error() string {
	msg := fmt.Sprintf("group %s: %s", e.GroupID, e.Reason)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel for the reason code.
func (e *GroupError) Is(target error) bool {
	return target != nil && target == e.Reason.Sentinel()
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// StageTimeoutError reports that a pipeline stage hit its configured timeout.
// Callers decide whether partial detection is acceptable; no partial result
// is returned with it.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %q exceeded timeout of %v", e.Stage, e.Timeout)
}

func (e *StageTimeoutError) Is(target error) bool {
	return target == ErrStageTimeout
}
