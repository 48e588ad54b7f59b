package sensorcache

import (
	"context"
	"encoding/json"
	"time"
)

// MetaRecord is the metadata of one task.
type MetaRecord struct {
	TaskID    string         `json:"taskId"`
	Meta      map[string]any `json:"meta"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// MetadataStore keeps one small record per task in the shared metadata
// namespace. The namespace is normally created with the database; databases that
// predate it get it through an upgrade on first use.
type MetadataStore struct {
	conn  *ConnectionManager
	prov  *Provisioner
	clock Clock
}

// NewMetadataStore creates a metadata store.
func NewMetadataStore(conn *ConnectionManager, prov *Provisioner, clock Clock) *MetadataStore {
	if clock == nil {
		clock = defaultClock
	}
	return &MetadataStore{conn: conn, prov: prov, clock: clock}
}

// PutMeta replaces the metadata of taskID.
func (s *MetadataStore) PutMeta(ctx context.Context, taskID string, meta map[string]any) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	data, err := json.Marshal(MetaRecord{TaskID: taskID, Meta: meta, UpdatedAt: s.clock.Now()})
	if err != nil {
		return newError(KindTransaction, "put_meta", MetaNamespace, err)
	}
	return writeRecord(ctx, s.conn, s.prov, "put_meta", MetaNamespace, taskID, data)
}

// GetMeta returns the metadata of taskID, or nil if there is none.
func (s *MetadataStore) GetMeta(ctx context.Context, taskID string) (*MetaRecord, error) {
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}

	var rec *MetaRecord
	err := s.conn.View(ctx, func(h Handle) error {
		if !h.HasNamespace(MetaNamespace) {
			return nil
		}
		data, ok, err := h.Get(ctx, MetaNamespace, taskID)
		if err != nil || !ok {
			return err
		}
		recordBytesReadTotal.Add(float64(len(data)))
		rec = new(MetaRecord)
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, transactionError("get_meta", MetaNamespace, err)
	}
	return rec, nil
}

// DeleteMeta removes the metadata of taskID. Missing metadata is not an error.
func (s *MetadataStore) DeleteMeta(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	err := s.conn.View(ctx, func(h Handle) error {
		if !h.HasNamespace(MetaNamespace) {
			return nil
		}
		return h.Delete(ctx, MetaNamespace, taskID)
	})
	if err != nil {
		return transactionError("delete_meta", MetaNamespace, err)
	}
	return nil
}
