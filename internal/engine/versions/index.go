package versions

import (
	"sort"
	"sync"
	"time"

	"vrdf/internal/core/errors"
)

// Index is the in-memory Version Index. It is a projection of the persisted
// version table and is rebuilt with Load when a store opens.
type Index struct {
	mu        sync.RWMutex
	byDataset map[string][]Version
}

func NewIndex() *Index {
	return &Index{byDataset: make(map[string][]Version)}
}

// Load records vs in order, e.g. as read back from the triple log.
func (ix *Index) Load(vs []Version) error {
	for _, v := range vs {
		if err := ix.Record(v); err != nil {
			return err
		}
	}
	return nil
}

// Record appends v to its dataset. The id must exceed the dataset's latest
// id and the log range must not precede the latest range.
func (ix *Index) Record(v Version) error {
	if err := v.Validate(); err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeValidationError, "invalid version"),
			errors.CtxDataset, v.Dataset)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	list := ix.byDataset[v.Dataset]
	if n := len(list); n > 0 {
		last := list[n-1]
		if v.ID <= last.ID {
			return errors.AddContext(errors.Newf(errors.CodeOrderingViolation,
				"version %d is not greater than latest %d", v.ID, last.ID), errors.CtxDataset, v.Dataset)
		}
		if v.Range.From < last.Range.To {
			return errors.AddContext(errors.Newf(errors.CodeOrderingViolation,
				"log range %s precedes latest range %s", v.Range, last.Range), errors.CtxDataset, v.Dataset)
		}
	}
	ix.byDataset[v.Dataset] = append(list, v)
	return nil
}

// Resolve returns the version with exactly id, or the latest one when id is
// Latest. There is no nearest-match fallback.
func (ix *Index) Resolve(dataset string, id int64) (Version, error) {
	if id == Latest {
		v, ok := ix.Latest(dataset)
		if !ok {
			return Version{}, notFound(dataset, "dataset has no versions", id)
		}
		return v, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	list := ix.byDataset[dataset]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= id })
	if i < len(list) && list[i].ID == id {
		return list[i], nil
	}
	return Version{}, notFound(dataset, "no such version", id)
}

func notFound(dataset, msg string, id int64) error {
	de := &errors.DomainError{Code: errors.CodeNotFound, Message: msg}
	de.WithContext(errors.CtxDataset, dataset)
	if id != Latest {
		de.WithContext(errors.CtxVersion, id)
	}
	return de
}

func (ix *Index) Latest(dataset string) (Version, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.byDataset[dataset]
	if len(list) == 0 {
		return Version{}, false
	}
	return list[len(list)-1], true
}

// Position returns the 0-based ordinal of version id within its dataset.
func (ix *Index) Position(dataset string, id int64) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.byDataset[dataset]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= id })
	if i < len(list) && list[i].ID == id {
		return i, true
	}
	return 0, false
}

// At returns the version at ordinal pos within dataset.
func (ix *Index) At(dataset string, pos int) (Version, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.byDataset[dataset]
	if pos < 0 || pos >= len(list) {
		return Version{}, false
	}
	return list[pos], true
}

// AsOf returns the most recent version of dataset created at or before t.
func (ix *Index) AsOf(dataset string, t time.Time) (Version, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.byDataset[dataset]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].CreatedAt.After(t) {
			return list[i], true
		}
	}
	return Version{}, false
}

// List returns dataset's versions oldest first.
func (ix *Index) List(dataset string) []Version {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.byDataset[dataset]
	out := make([]Version, len(list))
	copy(out, list)
	return out
}

// ListAll returns every version ordered by created_at, ties broken by
// dataset name then id.
func (ix *Index) ListAll() []Version {
	ix.mu.RLock()
	out := make([]Version, 0)
	for _, list := range ix.byDataset {
		out = append(out, list...)
	}
	ix.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Dataset != b.Dataset {
			return a.Dataset < b.Dataset
		}
		return a.ID < b.ID
	})
	return out
}

// Datasets returns the names of datasets with at least one version, sorted.
func (ix *Index) Datasets() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.byDataset))
	for name, list := range ix.byDataset {
		if len(list) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of versions recorded across all datasets.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, list := range ix.byDataset {
		n += len(list)
	}
	return n
}
