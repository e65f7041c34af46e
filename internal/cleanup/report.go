package cleanup

import (
	"errors"
	"fmt"

	"github.com/yairfalse/benchctx/pkg/resource"
)

// Failure is one resource (or resource type) that could not be cleaned up.
type Failure struct {
	ResourceType string
	Resource     *resource.Resource // nil when the type itself failed
	Err          error
}

func (f Failure) Error() string {
	if f.Resource == nil {
		return fmt.Sprintf("%s: %v", f.ResourceType, f.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v", f.ResourceType, f.Resource.Name, f.Resource.ID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarizes one cleanup invocation.
type Report struct {
	Deleted  []resource.Resource
	Vanished []resource.Resource // already gone when deleted
	Foreign  int                 // name matched but owned by another run
	Failed   []Failure
}

// Removed is the number of matched resources that no longer exist.
func (r *Report) Removed() int {
	return len(r.Deleted) + len(r.Vanished)
}

// Err joins all failures, or returns nil.
func (r *Report) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Merge appends other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Deleted = append(r.Deleted, other.Deleted...)
	r.Vanished = append(r.Vanished, other.Vanished...)
	r.Foreign += other.Foreign
	r.Failed = append(r.Failed, other.Failed...)
}
