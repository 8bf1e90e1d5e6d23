// Package slot tracks blue/green namespace state per environment and
// performs atomic promotion of the standby slot.
package slot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	slipwayv1alpha1 "github.com/slipway-sh/deployer/api/v1alpha1"
	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/metrics"
	"github.com/slipway-sh/deployer/internal/model"
)

const (
	// Annotations on the routing Service consumed by the ingress layer.
	activeColorAnnotation   = "slipway.sh/active-color"
	canaryBackendAnnotation = "slipway.sh/canary-backend"
	canaryWeightAnnotation  = "slipway.sh/canary-weight"

	colorLabel     = "slipway.sh/color"
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "slipway-deployer"
)

// Manager maintains the active/standby slot pointer per environment and
// mutates cluster resources: slot namespaces, workloads, and the primary
// routing Service. The ReleaseState resource is the authoritative record of
// which slot is active.
type Manager struct {
	client         client.Client
	cfg            *config.Config
	stateNamespace string
	now            func() time.Time
}

// NewManager creates a slot manager. stateNamespace is where ReleaseState
// resources are persisted.
func NewManager(c client.Client, cfg *config.Config, stateNamespace string) *Manager {
	return &Manager{
		client:         c,
		cfg:            cfg,
		stateNamespace: stateNamespace,
		now:            time.Now,
	}
}

// SlotNamespace returns the namespace for one color of an environment.
func SlotNamespace(binding model.ClusterBinding, color model.Color) string {
	return fmt.Sprintf("%s-%s", binding.NamespacePrefix, color)
}

// routerNamespace is the environment root namespace holding the primary
// routing Service.
func routerNamespace(binding model.ClusterBinding) string {
	return binding.NamespacePrefix
}

func (m *Manager) stateName(environment string) string {
	return fmt.Sprintf("%s-%s", m.cfg.Application, environment)
}

// State loads the release state for an environment, defaulting to blue-active
// when none exists yet.
func (m *Manager) State(ctx context.Context, environment string) (*slipwayv1alpha1.ReleaseState, error) {
	state := &slipwayv1alpha1.ReleaseState{}
	err := m.client.Get(ctx, types.NamespacedName{
		Namespace: m.stateNamespace,
		Name:      m.stateName(environment),
	}, state)
	if err == nil {
		return state, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load release state: %w", err)
	}

	state = &slipwayv1alpha1.ReleaseState{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: m.stateNamespace,
			Name:      m.stateName(environment),
		},
		Spec: slipwayv1alpha1.ReleaseStateSpec{
			Application: m.cfg.Application,
			Environment: environment,
			ActiveColor: string(model.ColorBlue),
		},
	}
	if err := m.client.Create(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to initialize release state: %w", err)
	}
	return state, nil
}

// ActiveColor returns the color currently serving non-canary traffic.
func (m *Manager) ActiveColor(ctx context.Context, environment string) (model.Color, error) {
	state, err := m.State(ctx, environment)
	if err != nil {
		return "", err
	}
	return model.Color(state.Spec.ActiveColor), nil
}

// Deploy writes a new workload revision into the standby slot only. The
// active slot is never touched during this phase, so a failing deploy leaves
// the serving version unaffected.
func (m *Manager) Deploy(ctx context.Context, env config.Environment, imageRef string) (*model.DeploymentSlot, error) {
	logger := log.FromContext(ctx).WithName("slot-manager")

	state, err := m.State(ctx, env.Name)
	if err != nil {
		return nil, err
	}
	target := model.Color(state.Spec.ActiveColor).Opposite()
	namespace := SlotNamespace(env.Cluster, target)

	logger.Info("Deploying into standby slot",
		"environment", env.Name,
		"color", target,
		"namespace", namespace,
		"image", imageRef,
	)

	if err := m.ensureNamespace(ctx, namespace, target); err != nil {
		return nil, err
	}
	if err := m.applyWorkload(ctx, namespace, target, imageRef); err != nil {
		return nil, err
	}
	if err := m.applySlotService(ctx, namespace); err != nil {
		return nil, err
	}

	state.Spec.StandbyImage = imageRef
	state.Spec.CanaryWeight = 0
	state.Spec.CanaryStatus = ""
	if err := m.client.Update(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to record standby deployment: %w", err)
	}

	return &model.DeploymentSlot{
		Environment:  env.Name,
		Color:        target,
		Namespace:    namespace,
		ImageRef:     imageRef,
		HealthStatus: model.SlotHealthProgressing,
		CreatedAt:    m.now(),
	}, nil
}

// RouteCanary updates the canary backend and weight annotations on the
// primary routing Service. The active backend is untouched.
func (m *Manager) RouteCanary(ctx context.Context, env config.Environment, target model.Color, weight int) error {
	router, err := m.ensureRouter(ctx, env)
	if err != nil {
		return err
	}
	if router.Annotations == nil {
		router.Annotations = map[string]string{}
	}
	router.Annotations[canaryBackendAnnotation] = slotServiceHost(m.cfg.Application, SlotNamespace(env.Cluster, target))
	router.Annotations[canaryWeightAnnotation] = strconv.Itoa(weight)
	if err := m.client.Update(ctx, router); err != nil {
		return fmt.Errorf("failed to update canary routing: %w", err)
	}
	metrics.CanaryWeight.WithLabelValues(m.cfg.Application, env.Name).Set(float64(weight))
	return nil
}

// Promote atomically repoints the primary routing rule at the standby slot,
// then flips the active pointer. The previous active slot becomes standby and
// is retained for the configured grace window.
func (m *Manager) Promote(ctx context.Context, env config.Environment) error {
	logger := log.FromContext(ctx).WithName("slot-manager")

	state, err := m.State(ctx, env.Name)
	if err != nil {
		return err
	}
	target := model.Color(state.Spec.ActiveColor).Opposite()

	if err := m.pointRouter(ctx, env, target, 0); err != nil {
		return err
	}

	previousImage := state.Spec.ActiveImage
	state.Spec.ActiveColor = string(target)
	state.Spec.ActiveImage = state.Spec.StandbyImage
	state.Spec.StandbyImage = previousImage
	state.Spec.CanaryWeight = 0
	state.Spec.CanaryStatus = string(model.CanaryCompleted)
	state.Spec.LastPromotedAt = metav1.NewTime(m.now())
	state.Spec.StandbyRetireAt = metav1.NewTime(m.now().Add(m.cfg.GraceWindow.Duration))
	if err := m.client.Update(ctx, state); err != nil {
		return fmt.Errorf("failed to flip active slot pointer: %w", err)
	}

	metrics.Promotions.WithLabelValues(m.cfg.Application, env.Name).Inc()
	metrics.CanaryWeight.WithLabelValues(m.cfg.Application, env.Name).Set(0)
	logger.Info("Promotion complete",
		"environment", env.Name,
		"activeColor", target,
		"image", state.Spec.ActiveImage,
	)
	return nil
}

// Restore points the primary routing rule back at the given color and records
// it as active, with canary traffic zeroed. Used by the rollback coordinator.
func (m *Manager) Restore(ctx context.Context, env config.Environment, color model.Color) error {
	if err := m.pointRouter(ctx, env, color, 0); err != nil {
		return err
	}
	state, err := m.State(ctx, env.Name)
	if err != nil {
		return err
	}
	if state.Spec.ActiveColor != string(color) {
		// A promotion flipped the pointer and swapped the image records;
		// the now-restored slot serves what was recorded as standby.
		state.Spec.ActiveImage, state.Spec.StandbyImage = state.Spec.StandbyImage, state.Spec.ActiveImage
		state.Spec.LastPromotedAt = metav1.Time{}
		state.Spec.StandbyRetireAt = metav1.Time{}
	}
	state.Spec.ActiveColor = string(color)
	state.Spec.CanaryWeight = 0
	state.Spec.CanaryStatus = string(model.CanaryAborted)
	if err := m.client.Update(ctx, state); err != nil {
		return fmt.Errorf("failed to restore active slot pointer: %w", err)
	}
	metrics.CanaryWeight.WithLabelValues(m.cfg.Application, env.Name).Set(0)
	return nil
}

// RetireStandby deletes the standby slot namespace once the grace window has
// elapsed. A no-op while the window is still open.
func (m *Manager) RetireStandby(ctx context.Context, env config.Environment) error {
	logger := log.FromContext(ctx).WithName("slot-manager")

	state, err := m.State(ctx, env.Name)
	if err != nil {
		return err
	}
	if state.Spec.StandbyRetireAt.IsZero() || m.now().Before(state.Spec.StandbyRetireAt.Time) {
		return nil
	}

	standby := model.Color(state.Spec.ActiveColor).Opposite()
	namespace := SlotNamespace(env.Cluster, standby)
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if err := m.client.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to retire standby slot %s: %w", namespace, err)
	}

	state.Spec.StandbyRetireAt = metav1.Time{}
	state.Spec.StandbyImage = ""
	if err := m.client.Update(ctx, state); err != nil {
		return fmt.Errorf("failed to clear standby retirement: %w", err)
	}
	logger.Info("Retired standby slot", "environment", env.Name, "namespace", namespace)
	return nil
}

// pointRouter performs the single atomic routing update: ExternalName and
// annotations change in one Update call.
func (m *Manager) pointRouter(ctx context.Context, env config.Environment, color model.Color, weight int) error {
	router, err := m.ensureRouter(ctx, env)
	if err != nil {
		return err
	}
	if router.Annotations == nil {
		router.Annotations = map[string]string{}
	}
	router.Spec.ExternalName = slotServiceHost(m.cfg.Application, SlotNamespace(env.Cluster, color))
	router.Annotations[activeColorAnnotation] = string(color)
	router.Annotations[canaryWeightAnnotation] = strconv.Itoa(weight)
	delete(router.Annotations, canaryBackendAnnotation)
	if err := m.client.Update(ctx, router); err != nil {
		return fmt.Errorf("failed to update primary routing rule: %w", err)
	}
	return nil
}

func (m *Manager) ensureRouter(ctx context.Context, env config.Environment) (*corev1.Service, error) {
	namespace := routerNamespace(env.Cluster)
	if err := m.ensureNamespace(ctx, namespace, ""); err != nil {
		return nil, err
	}

	router := &corev1.Service{}
	err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: m.cfg.Application}, router)
	if err == nil {
		return router, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load routing service: %w", err)
	}

	state, err := m.State(ctx, env.Name)
	if err != nil {
		return nil, err
	}
	active := model.Color(state.Spec.ActiveColor)

	router = &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      m.cfg.Application,
			Labels:    map[string]string{managedByLabel: managedByValue},
			Annotations: map[string]string{
				activeColorAnnotation:  string(active),
				canaryWeightAnnotation: "0",
			},
		},
		Spec: corev1.ServiceSpec{
			Type:         corev1.ServiceTypeExternalName,
			ExternalName: slotServiceHost(m.cfg.Application, SlotNamespace(env.Cluster, active)),
		},
	}
	if err := m.client.Create(ctx, router); err != nil {
		return nil, fmt.Errorf("failed to create routing service: %w", err)
	}
	return router, nil
}

func (m *Manager) ensureNamespace(ctx context.Context, name string, color model.Color) error {
	ns := &corev1.Namespace{}
	err := m.client.Get(ctx, types.NamespacedName{Name: name}, ns)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to check namespace %s: %w", name, err)
	}

	labels := map[string]string{managedByLabel: managedByValue}
	if color != "" {
		labels[colorLabel] = string(color)
	}
	ns = &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
	if err := m.client.Create(ctx, ns); err != nil {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

func (m *Manager) applyWorkload(ctx context.Context, namespace string, color model.Color, imageRef string) error {
	labels := map[string]string{
		"app.kubernetes.io/name": m.cfg.Application,
		colorLabel:               string(color),
		managedByLabel:           managedByValue,
	}

	desired := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      m.cfg.Application,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app.kubernetes.io/name": m.cfg.Application},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  m.cfg.Application,
						Image: imageRef,
					}},
				},
			},
		},
	}

	existing := &appsv1.Deployment{}
	err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: m.cfg.Application}, existing)
	if apierrors.IsNotFound(err) {
		if err := m.client.Create(ctx, desired); err != nil {
			return fmt.Errorf("failed to create workload: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load workload: %w", err)
	}

	existing.Labels = labels
	existing.Spec.Template = desired.Spec.Template
	if err := m.client.Update(ctx, existing); err != nil {
		return fmt.Errorf("failed to update workload: %w", err)
	}
	return nil
}

func (m *Manager) applySlotService(ctx context.Context, namespace string) error {
	svc := &corev1.Service{}
	err := m.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: m.cfg.Application}, svc)
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to check slot service: %w", err)
	}

	svc = &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      m.cfg.Application,
			Labels:    map[string]string{managedByLabel: managedByValue},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app.kubernetes.io/name": m.cfg.Application},
			Ports: []corev1.ServicePort{{
				Name: "http",
				Port: 80,
			}},
		},
	}
	if err := m.client.Create(ctx, svc); err != nil {
		return fmt.Errorf("failed to create slot service: %w", err)
	}
	return nil
}

func slotServiceHost(application, namespace string) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", application, namespace)
}
