package sensorcache

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"
)

const (
	// TaskNamespacePrefix prefixes the namespace of every task.
	TaskNamespacePrefix = "taskData_"
	// MetaNamespace holds the metadata record of every task.
	MetaNamespace = "taskMeta"
)

// NamespaceName returns the namespace holding the records of taskID.
func NamespaceName(taskID string) string {
	return TaskNamespacePrefix + taskID
}

// TaskIDFromNamespace is the inverse of NamespaceName.
func TaskIDFromNamespace(name string) (string, bool) {
	if !strings.HasPrefix(name, TaskNamespacePrefix) || len(name) == len(TaskNamespacePrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, TaskNamespacePrefix), true
}

// Provisioner creates task namespaces on demand and removes them on request.
//
// Creating a namespace costs a version bump. Concurrent ensures of the same
// namespace share one upgrade; ensures of different namespaces run one after the
// other through the connection manager.
type Provisioner struct {
	conn  *ConnectionManager
	group singleflight.Group
}

// NewProvisioner creates a provisioner over conn.
func NewProvisioner(conn *ConnectionManager) *Provisioner {
	return &Provisioner{conn: conn}
}

// EnsureNamespace makes sure the namespace of taskID exists and returns the
// handle that has it. The handle is valid until the next upgrade.
func (p *Provisioner) EnsureNamespace(ctx context.Context, taskID string) (Handle, error) {
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}
	return p.ensure(ctx, NamespaceName(taskID))
}

func (p *Provisioner) ensure(ctx context.Context, ns string) (Handle, error) {
	if h, ok := p.conn.knows(ns); ok {
		return h, nil
	}

	// The upgrade is shared by every coalesced caller, so it does not follow
	// the cancellation of whichever caller started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do("create:"+ns, func() (any, error) {
		return p.conn.upgrade(shared, schemaChange{
			op:        "create",
			namespace: ns,
			needed:    func(h Handle) bool { return !h.HasNamespace(ns) },
			migrate: func(tx UpgradeTx) error {
				if tx.HasNamespace(ns) {
					return nil
				}
				return tx.CreateNamespace(ns)
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// DeleteNamespace removes the namespace of taskID and all its records. It is a
// no-op when the namespace does not exist.
func (p *Provisioner) DeleteNamespace(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrInvalidTaskID
	}
	return p.drop(ctx, NamespaceName(taskID))
}

func (p *Provisioner) drop(ctx context.Context, ns string) error {
	if _, err := p.conn.Open(ctx, 0); err != nil {
		return err
	}
	if !p.conn.isKnown(ns) {
		return nil
	}

	shared := context.WithoutCancel(ctx)
	_, err, _ := p.group.Do("drop:"+ns, func() (any, error) {
		return p.conn.upgrade(shared, schemaChange{
			op:        "delete",
			namespace: ns,
			needed:    func(h Handle) bool { return h.HasNamespace(ns) },
			migrate: func(tx UpgradeTx) error {
				if !tx.HasNamespace(ns) {
					return nil
				}
				return tx.DeleteNamespace(ns)
			},
		})
	})
	return err
}
