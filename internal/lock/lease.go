// Package lock enforces at most one promotion or rollback in flight per
// (application, environment) pair, using a coordination.k8s.io Lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/config"
)

// ErrLocked is returned under the reject policy when another deployment holds
// the environment lock.
var ErrLocked = errors.New("another deployment is in flight for this environment")

// Lock coordinates deployment mutual exclusion through Lease resources.
type Lock struct {
	client    client.Client
	namespace string
	holder    string
	policy    config.LockPolicy
	ttl       time.Duration
	now       func() time.Time
}

// New creates a lock manager. holder is this pipeline run's identity;
// namespace is where Lease resources live.
func New(c client.Client, namespace, holder string, policy config.LockPolicy, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Lock{
		client:    c,
		namespace: namespace,
		holder:    holder,
		policy:    policy,
		ttl:       ttl,
		now:       time.Now,
	}
}

func leaseName(application, environment string) string {
	return fmt.Sprintf("slipway-%s-%s", application, environment)
}

// Acquire takes the lock for the pair. Under the reject policy a held lock
// returns ErrLocked; under abort-and-restart the lease is taken over and the
// previous holder observes the loss on its next tick.
func (l *Lock) Acquire(ctx context.Context, application, environment string) error {
	logger := log.FromContext(ctx).WithName("deploy-lock")
	name := leaseName(application, environment)

	lease := &coordinationv1.Lease{}
	err := l.client.Get(ctx, types.NamespacedName{Namespace: l.namespace, Name: name}, lease)
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Namespace: l.namespace, Name: name},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       ptr.To(l.holder),
				LeaseDurationSeconds: ptr.To(int32(l.ttl.Seconds())),
				AcquireTime:          ptr.To(metav1.NewMicroTime(l.now())),
				RenewTime:            ptr.To(metav1.NewMicroTime(l.now())),
				LeaseTransitions:     ptr.To(int32(0)),
			},
		}
		if err := l.client.Create(ctx, lease); err != nil {
			return fmt.Errorf("failed to create deployment lease: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check deployment lease: %w", err)
	}

	current := ""
	if lease.Spec.HolderIdentity != nil {
		current = *lease.Spec.HolderIdentity
	}

	switch {
	case current == "" || current == l.holder || l.expired(lease):
		// Free, ours, or stale: take it.
	case l.policy == config.LockPolicyReject:
		return ErrLocked
	default:
		// Abort-and-restart: steal the lease; the in-flight ramp checks
		// holder identity at the start of each tick and aborts.
		logger.Info("Taking over deployment lease",
			"application", application,
			"environment", environment,
			"previousHolder", current,
		)
	}

	transitions := int32(0)
	if lease.Spec.LeaseTransitions != nil {
		transitions = *lease.Spec.LeaseTransitions
	}
	if current != l.holder {
		transitions++
	}
	lease.Spec.HolderIdentity = ptr.To(l.holder)
	lease.Spec.LeaseDurationSeconds = ptr.To(int32(l.ttl.Seconds()))
	lease.Spec.AcquireTime = ptr.To(metav1.NewMicroTime(l.now()))
	lease.Spec.RenewTime = ptr.To(metav1.NewMicroTime(l.now()))
	lease.Spec.LeaseTransitions = ptr.To(transitions)
	if err := l.client.Update(ctx, lease); err != nil {
		return fmt.Errorf("failed to acquire deployment lease: %w", err)
	}
	return nil
}

// Held reports whether this run still holds the lock. The canary controller
// consults it as its cooperative abort flag.
func (l *Lock) Held(ctx context.Context, application, environment string) bool {
	lease := &coordinationv1.Lease{}
	err := l.client.Get(ctx, types.NamespacedName{
		Namespace: l.namespace,
		Name:      leaseName(application, environment),
	}, lease)
	if err != nil {
		return false
	}
	return lease.Spec.HolderIdentity != nil && *lease.Spec.HolderIdentity == l.holder
}

// Release frees the lock if this run still holds it.
func (l *Lock) Release(ctx context.Context, application, environment string) error {
	lease := &coordinationv1.Lease{}
	name := leaseName(application, environment)
	err := l.client.Get(ctx, types.NamespacedName{Namespace: l.namespace, Name: name}, lease)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check deployment lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.holder {
		// Lost to a takeover; nothing to release.
		return nil
	}
	if err := l.client.Delete(ctx, lease); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to release deployment lease: %w", err)
	}
	return nil
}

func (l *Lock) expired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return l.now().After(expiry)
}
