package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

// Compile-time check that Store implements dominion.Ledger.
var _ dominion.Ledger = (*Store)(nil)

const (
	defaultLeasePrefix = "dominion"
	managedByLabel     = "app.kubernetes.io/managed-by"
)

// Store implements dominion.Ledger using the coordination/v1 Lease API.
// One Lease object per server carries that server's heartbeat record.
type Store struct {
	client      kubernetes.Interface
	namespace   string
	leasePrefix string
	logger      *slog.Logger
}

// New creates a Kubernetes ledger.
// The clientset and namespace are required. Use functional options to
// customise the lease prefix or logger.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Store {
	s := &Store{
		client:      client,
		namespace:   namespace,
		leasePrefix: defaultLeasePrefix,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate is a no-op: Lease objects are created on demand.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping verifies API connectivity and list permission on Leases.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(),
		Limit:         1,
	})
	if err != nil {
		return fmt.Errorf("dominion/k8s: ping: %w", err)
	}
	return nil
}

// Close is a no-op because the caller owns the clientset lifecycle.
func (s *Store) Close() error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger operations
// ──────────────────────────────────────────────────

// Leader returns the record with the most recent renew time, or nil when
// no managed leases exist.
func (s *Store) Leader(ctx context.Context) (*dominion.Record, error) {
	leases, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(),
	})
	if err != nil {
		return nil, fmt.Errorf("dominion/k8s: list leases: %w", err)
	}

	var leader *dominion.Record
	for i := range leases.Items {
		rec, convErr := recordFromLease(&leases.Items[i])
		if convErr != nil {
			continue // lease has no/invalid holder data
		}
		if leader == nil || rec.LastPing.After(leader.LastPing) {
			leader = rec
		}
	}
	return leader, nil
}

// Claim creates or refreshes the Lease for serverID. A fresh create stamps
// AcquireTime; a refresh moves RenewTime and leaves AcquireTime untouched.
// A racing first create reports (false, nil).
func (s *Store) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	sid := serverID.String()
	stamp := metav1.NewMicroTime(at)
	name := s.leaseName(sid)

	lease, err := s.client.CoordinationV1().Leases(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		// No lease exists — create one with us as holder.
		newLease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: s.namespace,
				Labels:    map[string]string{managedByLabel: s.leasePrefix},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity: &sid,
				AcquireTime:    &stamp,
				RenewTime:      &stamp,
			},
		}
		_, createErr := s.client.CoordinationV1().Leases(s.namespace).Create(ctx, newLease, metav1.CreateOptions{})
		if createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				return false, nil // race: someone else created it first
			}
			return false, fmt.Errorf("dominion/k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("dominion/k8s: get lease: %w", err)
	}

	// Refresh: RenewTime moves, AcquireTime stays.
	lease.Spec.HolderIdentity = &sid
	lease.Spec.RenewTime = &stamp

	_, err = s.client.CoordinationV1().Leases(s.namespace).Update(ctx, lease, metav1.UpdateOptions{})
	if err != nil {
		if errors.IsConflict(err) {
			return false, nil // concurrent writer on the same lease
		}
		return false, fmt.Errorf("dominion/k8s: update lease: %w", err)
	}
	return true, nil
}

// PurgeOthers deletes every managed Lease except the one owned by serverID.
func (s *Store) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	own := s.leaseName(serverID.String())

	leases, err := s.client.CoordinationV1().Leases(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: s.selector(),
	})
	if err != nil {
		return 0, fmt.Errorf("dominion/k8s: list leases: %w", err)
	}

	var removed int64
	for i := range leases.Items {
		lease := &leases.Items[i]
		if lease.Name == own {
			continue
		}
		delErr := s.client.CoordinationV1().Leases(s.namespace).Delete(ctx, lease.Name, metav1.DeleteOptions{})
		if delErr != nil {
			if errors.IsNotFound(delErr) {
				continue // already gone
			}
			return removed, fmt.Errorf("dominion/k8s: delete lease %s: %w", lease.Name, delErr)
		}
		removed++
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// leaseName derives the DNS-1123 compatible Lease name for a server ID.
// TypeID strings carry an underscore, which Lease names cannot.
func (s *Store) leaseName(serverID string) string {
	return s.leasePrefix + "-" + strings.ReplaceAll(serverID, "_", "-")
}

func (s *Store) selector() string {
	return managedByLabel + "=" + s.leasePrefix
}

// recordFromLease converts a Lease to a dominion.Record.
func recordFromLease(lease *coordinationv1.Lease) (*dominion.Record, error) {
	spec := lease.Spec
	if spec.HolderIdentity == nil || *spec.HolderIdentity == "" {
		return nil, fmt.Errorf("dominion/k8s: lease %q has no holder identity", lease.Name)
	}
	sid, err := id.ParseServerID(*spec.HolderIdentity)
	if err != nil {
		return nil, fmt.Errorf("dominion/k8s: parse server id: %w", err)
	}

	rec := &dominion.Record{ServerID: sid}
	if spec.RenewTime != nil {
		rec.LastPing = spec.RenewTime.Time
	}
	if spec.AcquireTime != nil {
		rec.Created = spec.AcquireTime.Time
	}
	return rec, nil
}
