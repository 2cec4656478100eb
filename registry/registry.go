package registry

import (
	"fmt"
	"sync"

	memdb "github.com/hashicorp/go-memdb"
)

const tableRecords = "records"

// schema wires the three derived indices the spec requires — by model id,
// by instance id, and by (model id, instance id) — plus the replacement
// key used to decide whether an incoming record overwrites an existing
// one. go-memdb's immutable radix tree gives us the "readers never
// observe an index inconsistent with the primary set" invariant for
// free: every read transaction sees a consistent snapshot, and a write
// transaction's Commit atomically swaps in the new snapshot.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableRecords: {
				Name: tableRecords,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "ProviderID"},
								&memdb.StringFieldIndex{Field: "InstanceID"},
								&memdb.StringFieldIndex{Field: "ModelID"},
								&memdb.StringFieldIndex{Field: "Protocol"},
							},
						},
					},
					"model": {
						Name:    "model",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "ModelID"},
					},
					"instance": {
						Name:    "instance",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "InstanceID"},
					},
					"model_instance": {
						Name:   "model_instance",
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "ModelID"},
								&memdb.StringFieldIndex{Field: "InstanceID"},
							},
						},
					},
				},
			},
		},
	}
}

// Registry is the thread-safe index of endpoint access records. The zero
// value is not usable; construct with New.
type Registry struct {
	// writeMu serialises writers (the spec's "single-writer" discipline);
	// readers never take this lock and are never blocked by it.
	writeMu sync.Mutex
	db      *memdb.MemDB
}

// New creates an empty Registry.
func New() *Registry {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// The schema above is static and known-valid; a failure here is
		// an internal invariant violation, not a runtime condition a
		// caller can recover from.
		panic(fmt.Errorf("registry: invalid schema: %w", err))
	}
	return &Registry{db: db}
}

// Register atomically inserts or replaces every record in recs. If any
// record fails validation, no record in the batch is applied.
func (r *Registry) Register(recs []Record) error {
	validated := make([]Record, len(recs))
	for i, rec := range recs {
		validated[i] = rec
		if err := validated[i].validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	txn := r.db.Txn(true)
	defer txn.Abort()

	for _, rec := range validated {
		if err := txn.Insert(tableRecords, rec); err != nil {
			return fmt.Errorf("registry: internal invariant violation: %w", err)
		}
	}
	txn.Commit()
	return nil
}

// FindByModelID returns every record with the given model id, sorted by
// (provider id, instance id) ascending.
func (r *Registry) FindByModelID(modelID string) []Record {
	txn := r.db.Txn(false)
	defer txn.Abort()

	return queryAll(txn, "model", modelID)
}

// FindByInstanceID returns every record with the given instance id, sorted
// by (provider id, instance id) ascending.
func (r *Registry) FindByInstanceID(instanceID string) []Record {
	txn := r.db.Txn(false)
	defer txn.Abort()

	return queryAll(txn, "instance", instanceID)
}

// FindByModelAndInstance returns every record matching both a model id and
// an instance id, sorted by (provider id, instance id) ascending.
func (r *Registry) FindByModelAndInstance(modelID, instanceID string) []Record {
	txn := r.db.Txn(false)
	defer txn.Abort()

	return queryAll(txn, "model_instance", modelID, instanceID)
}

// FindByID is the legacy lookup: id is first tried as an instance id, then
// as a model id. It returns the first record in the deterministic
// (provider id, instance id) order, or ErrNotFound.
func (r *Registry) FindByID(id string) (Record, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	if recs := queryAll(txn, "instance", id); len(recs) > 0 {
		return recs[0], nil
	}
	if recs := queryAll(txn, "model", id); len(recs) > 0 {
		return recs[0], nil
	}
	return Record{}, ErrNotFound
}

func queryAll(txn *memdb.Txn, index string, args ...interface{}) []Record {
	it, err := txn.Get(tableRecords, index, args...)
	if err != nil {
		return nil
	}
	var out []Record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(Record))
	}
	ByProviderThenInstance(out)
	return out
}
