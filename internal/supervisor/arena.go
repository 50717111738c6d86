// Package supervisor implements the Job object and its dispatch policy:
// the unit of supervision, the state machine governing when it runs, and
// the two-phase mark/sweep arena that replaces the parent/child pointer
// cycles of the original implementation (spec.md §9 DESIGN NOTES).
package supervisor

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

const jobsTable = "jobs"

func arenaSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"label": {
						Name:    "label",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Label"},
					},
					"parent": {
						Name:    "parent",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "ParentID"},
					},
				},
			},
		},
	}
}

// Arena is the stable-id-keyed store of every Job in the tree. Children
// reference their parent by ParentID, not by pointer, so iteration never
// has to worry about a sibling invalidating the node it is looking at.
type Arena struct {
	db *memdb.MemDB
}

func NewArena() (*Arena, error) {
	db, err := memdb.NewMemDB(arenaSchema())
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}
	return &Arena{db: db}, nil
}

// Insert writes job into the arena, replacing any prior row with the same
// ID. Label uniqueness (spec.md §3 invariant 1) is enforced by
// insertLocked, which looks the label up before writing and returns
// LabelInUseError when a different job holds it.
func (a *Arena) Insert(job *Job) error {
	txn := a.db.Txn(true)
	defer txn.Abort()
	if err := a.insertLocked(txn, job); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (a *Arena) insertLocked(txn *memdb.Txn, job *Job) error {
	if existing, err := txn.First(jobsTable, "label", job.Label); err == nil && existing != nil {
		if existing.(*Job).ID != job.ID {
			return &LabelInUseError{Label: job.Label}
		}
	}
	return txn.Insert(jobsTable, job)
}

// Get returns the job with id, or nil if it does not exist.
func (a *Arena) Get(id string) (*Job, error) {
	txn := a.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(jobsTable, "id", id)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*Job), nil
}

// GetByLabel returns the job with the given label, or nil.
func (a *Arena) GetByLabel(label string) (*Job, error) {
	txn := a.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(jobsTable, "label", label)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*Job), nil
}

// Children returns every job whose ParentID is parentID.
func (a *Arena) Children(parentID string) ([]*Job, error) {
	txn := a.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "parent", parentID)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*Job))
	}
	return out, nil
}

// All returns a snapshot of every job currently in the arena.
func (a *Arena) All() ([]*Job, error) {
	txn := a.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(jobsTable, "id")
	if err != nil {
		return nil, err
	}
	var out []*Job
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*Job))
	}
	return out, nil
}

// Delete physically removes id from the arena. Used only by the sweep
// phase of a dispatch cycle, after every reference to the job has been
// released.
func (a *Arena) Delete(id string) error {
	job, err := a.Get(id)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	txn := a.db.Txn(true)
	defer txn.Abort()
	if err := txn.Delete(jobsTable, job); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// LabelInUseError is returned by Insert/import when a label collides with
// a live job (spec.md §3 invariant 1).
type LabelInUseError struct {
	Label string
}

func (e *LabelInUseError) Error() string { return "label already in use: " + e.Label }
