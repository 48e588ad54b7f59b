package sensorcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// maxEnsureAttempts bounds how often a write re-provisions a namespace that was
// dropped between provisioning and the write itself.
const maxEnsureAttempts = 3

var errNamespaceGone = errors.New("namespace dropped during operation")

// Record is one stored value of a device.
type Record struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordStore stores one record per device in the namespace of each task.
type RecordStore struct {
	conn  *ConnectionManager
	prov  *Provisioner
	clock Clock
}

// NewRecordStore creates a record store. A nil clock uses the process-wide
// monotonic clock.
func NewRecordStore(conn *ConnectionManager, prov *Provisioner, clock Clock) *RecordStore {
	if clock == nil {
		clock = defaultClock
	}
	return &RecordStore{conn: conn, prov: prov, clock: clock}
}

// Put stores value for deviceID under taskID, creating the task's namespace if
// needed. The last write wins.
func (s *RecordStore) Put(ctx context.Context, taskID, deviceID, value string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	ns := NamespaceName(taskID)

	data, err := json.Marshal(Record{Value: value, UpdatedAt: s.clock.Now()})
	if err != nil {
		return newError(KindTransaction, "put", ns, err)
	}
	return writeRecord(ctx, s.conn, s.prov, "put", ns, deviceID, data)
}

// writeRecord stores data under key in ns, provisioning ns first.
func writeRecord(ctx context.Context, conn *ConnectionManager, prov *Provisioner, op, ns, key string, data []byte) error {
	for attempt := 0; attempt < maxEnsureAttempts; attempt++ {
		if _, err := prov.ensure(ctx, ns); err != nil {
			return err
		}
		err := conn.View(ctx, func(h Handle) error {
			if !h.HasNamespace(ns) {
				return errNamespaceGone
			}
			return h.Put(ctx, ns, key, data)
		})
		if errors.Is(err, errNamespaceGone) {
			continue
		}
		if err != nil {
			return transactionError(op, ns, err)
		}
		recordBytesWrittenTotal.Add(float64(len(data)))
		return nil
	}
	return transactionError(op, ns, ErrNamespaceNotFound)
}

// transactionError classifies err unless it already carries a kind.
func transactionError(op, ns string, err error) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	transactionErrorsTotal.WithLabelValues(op).Inc()
	return newError(KindTransaction, op, ns, err)
}

// Get returns the value stored for deviceID under taskID. It never creates a
// namespace: a missing namespace or record yields ("", false, nil).
func (s *RecordStore) Get(ctx context.Context, taskID, deviceID string) (string, bool, error) {
	rec, err := s.GetRecord(ctx, taskID, deviceID)
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.Value, true, nil
}

// GetRecord returns the record stored for deviceID under taskID, or nil.
func (s *RecordStore) GetRecord(ctx context.Context, taskID, deviceID string) (*Record, error) {
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}
	ns := NamespaceName(taskID)

	var rec *Record
	err := s.conn.View(ctx, func(h Handle) error {
		if !h.HasNamespace(ns) {
			return nil
		}
		data, ok, err := h.Get(ctx, ns, deviceID)
		if err != nil || !ok {
			return err
		}
		recordBytesReadTotal.Add(float64(len(data)))
		rec = new(Record)
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, transactionError("get", ns, err)
	}
	return rec, nil
}

// Delete removes the record of deviceID. A missing namespace or record is not
// an error.
func (s *RecordStore) Delete(ctx context.Context, taskID, deviceID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	ns := NamespaceName(taskID)

	err := s.conn.View(ctx, func(h Handle) error {
		if !h.HasNamespace(ns) {
			return nil
		}
		return h.Delete(ctx, ns, deviceID)
	})
	if err != nil {
		return transactionError("delete", ns, err)
	}
	return nil
}

// ListDeviceIDs returns the device identifiers stored under taskID in ascending
// order. A missing namespace yields an empty list.
func (s *RecordStore) ListDeviceIDs(ctx context.Context, taskID string) ([]string, error) {
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}
	ns := NamespaceName(taskID)

	ids := []string{}
	err := s.conn.View(ctx, func(h Handle) error {
		if !h.HasNamespace(ns) {
			return nil
		}
		return h.Scan(ctx, ns, func(key string, _ []byte) error {
			ids = append(ids, key)
			return nil
		})
	})
	if err != nil {
		return nil, transactionError("list", ns, err)
	}
	return ids, nil
}

// ListTaskIDs returns the tasks that currently have a namespace.
func (s *RecordStore) ListTaskIDs(ctx context.Context) ([]string, error) {
	if err := s.conn.View(ctx, func(Handle) error { return nil }); err != nil {
		return nil, err
	}
	var out []string
	for _, ns := range s.conn.taskNamespaces() {
		id, _ := TaskIDFromNamespace(ns)
		out = append(out, id)
	}
	return out, nil
}

// DeleteAllForTask drops the namespace of taskID with every record in it.
func (s *RecordStore) DeleteAllForTask(ctx context.Context, taskID string) error {
	return s.prov.DeleteNamespace(ctx, taskID)
}

// EstimateTotalSize sums the byte length of every stored value across all task
// namespaces. It reads every record and is meant for diagnostics.
func (s *RecordStore) EstimateTotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.conn.View(ctx, func(h Handle) error {
		for _, ns := range h.Namespaces() {
			if _, ok := TaskIDFromNamespace(ns); !ok {
				continue
			}
			err := h.Scan(ctx, ns, func(_ string, data []byte) error {
				var rec Record
				if err := json.Unmarshal(data, &rec); err != nil {
					return err
				}
				total += int64(len(rec.Value))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, transactionError("estimate", "", err)
	}
	return total, nil
}
