// Package versions holds the commit record type and the per-dataset Version
// Index that maps version ids to ranges of the triple log.
package versions

import (
	"fmt"
	"strings"
	"time"
)

// Latest addresses the highest committed version of a dataset.
const Latest int64 = -1

// Kind records how a version id was chosen.
type Kind string

const (
	// KindClock ids are commit wall-clock times in Unix nanoseconds.
	KindClock Kind = "clock"
	// KindLogical ids are caller-supplied sequence numbers.
	KindLogical Kind = "logical"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindClock:
		return KindClock, nil
	case KindLogical:
		return KindLogical, nil
	default:
		return "", fmt.Errorf("unknown version kind %q", s)
	}
}

// Origin records what produced a version.
type Origin string

const (
	OriginCommit Origin = "commit"
	OriginUndo   Origin = "undo"
	OriginRedo   Origin = "redo"
)

func ParseOrigin(s string) (Origin, error) {
	switch Origin(strings.ToLower(strings.TrimSpace(s))) {
	case "", OriginCommit:
		return OriginCommit, nil
	case OriginUndo:
		return OriginUndo, nil
	case OriginRedo:
		return OriginRedo, nil
	default:
		return "", fmt.Errorf("unknown version origin %q", s)
	}
}

// LogRange bounds a version's entries by global log sequence: From is
// exclusive and To inclusive. An empty changeset has From == To.
type LogRange struct {
	From int64
	To   int64
}

func (r LogRange) Empty() bool {
	return r.From == r.To
}

func (r LogRange) String() string {
	return fmt.Sprintf("(%d,%d]", r.From, r.To)
}

// Version is an immutable commit record.
type Version struct {
	Dataset     string
	ID          int64
	Kind        Kind
	ChangesetID string
	Range       LogRange
	OpCount     int
	CreatedAt   time.Time
	Origin      Origin
	// Reverts is the id of the version this one compensates, or 0.
	Reverts int64
}

func (v Version) String() string {
	return fmt.Sprintf("%s@%d", v.Dataset, v.ID)
}

// Validate checks the fields every recorded version must carry.
func (v Version) Validate() error {
	if strings.TrimSpace(v.Dataset) == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	if v.ID <= 0 {
		return fmt.Errorf("version id must be positive, got %d", v.ID)
	}
	if v.Range.To < v.Range.From {
		return fmt.Errorf("log range %s is inverted", v.Range)
	}
	if v.CreatedAt.IsZero() {
		return fmt.Errorf("created_at must be set")
	}
	return nil
}
