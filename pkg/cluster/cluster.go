// Package cluster is a thin wrapper over the orchestrator control
// plane, it exposes exactly the operations the recovery probes need.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/palantir/stacktrace"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/clients"
	"github.com/litmuschaos/recovery-harness/pkg/types"
	"github.com/litmuschaos/recovery-harness/pkg/utils/retry"
	"github.com/litmuschaos/recovery-harness/pkg/workloads"
)

const (
	// transient read failures are retried this many times before
	// surfacing as a connection error
	readAttempts  = 3
	readRetryWait = 2 * time.Second
)

// Client is the control-plane surface consumed by the probes and the
// harness, kept narrow so tests can stub it
type Client interface {
	ListPods(ctx context.Context, namespace, selector string) ([]types.PodRef, error)
	DeletePod(ctx context.Context, ref types.PodRef, graceful bool) error
	WatchPods(ctx context.Context, namespace, selector string, timeout time.Duration) (<-chan types.PodEvent, error)
	ReplicaStatus(ctx context.Context, namespace, deployment string) (desired, ready int32, err error)
}

// KubeClient implements Client on top of the generated clientSets
type KubeClient struct {
	clients clients.ClientSets
}

// New returns a KubeClient wrapping the given clientSets
func New(clientSets clients.ClientSets) *KubeClient {
	return &KubeClient{clients: clientSets}
}

// ListPods returns a snapshot of all pods matching the label selector,
// including the owning controller derived from the owner references
func (c *KubeClient) ListPods(ctx context.Context, namespace, selector string) ([]types.PodRef, error) {
	var podList *corev1.PodList
	err := retry.
		Times(readAttempts).
		Wait(readRetryWait).
		TryWithContext(ctx, func(attempt uint) error {
			list, err := c.clients.KubeClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
			if err != nil {
				return classify(err, fmt.Sprintf("{namespace: %s, selector: %s}", namespace, selector))
			}
			podList = list
			return nil
		})
	if err != nil {
		return nil, stacktrace.Propagate(err, "could not list the target pods")
	}

	refs := make([]types.PodRef, 0, len(podList.Items))
	for i := range podList.Items {
		ref, err := c.snapshot(&podList.Items[i])
		if err != nil {
			return nil, stacktrace.Propagate(err, "could not resolve the pod owner")
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// DeletePod deletes the referenced pod, a zero grace period is
// requested when graceful is false
func (c *KubeClient) DeletePod(ctx context.Context, ref types.PodRef, graceful bool) error {
	deleteOptions := metav1.DeleteOptions{}
	if !graceful {
		gracePeriod := int64(0)
		deleteOptions.GracePeriodSeconds = &gracePeriod
	}
	if err := c.clients.KubeClient.CoreV1().Pods(ref.Namespace).Delete(ctx, ref.Name, deleteOptions); err != nil {
		return classify(err, fmt.Sprintf("{podName: %s, namespace: %s}", ref.Name, ref.Namespace))
	}
	return nil
}

// WatchPods opens a watch on the pods matching the selector and
// translates it into a bounded event stream. The stream ends when the
// timeout elapses, the context is cancelled or the transport fails, a
// transport failure is delivered as a final event carrying Err.
func (c *KubeClient) WatchPods(ctx context.Context, namespace, selector string, timeout time.Duration) (<-chan types.PodEvent, error) {
	out := make(chan types.PodEvent)

	// a zero budget observes nothing, the watch is not even opened
	if timeout <= 0 {
		close(out)
		return out, nil
	}

	w, err := c.clients.KubeClient.CoreV1().Pods(namespace).Watch(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, classify(err, fmt.Sprintf("{namespace: %s, selector: %s}", namespace, selector))
	}

	go func() {
		defer close(out)
		defer w.Stop()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				return
			case event, ok := <-w.ResultChan():
				if !ok {
					// the transport dropped before the watch budget elapsed
					c.deliver(ctx, out, types.PodEvent{
						At:  time.Now(),
						Err: cerrors.Error{ErrorCode: cerrors.ErrorTypeConnection, Target: fmt.Sprintf("{namespace: %s, selector: %s}", namespace, selector), Reason: "watch stream closed by the control plane"},
					})
					return
				}
				pod, isPod := event.Object.(*corev1.Pod)
				if !isPod {
					status, isStatus := event.Object.(*metav1.Status)
					reason := "watch stream returned a non-pod object"
					if isStatus {
						reason = status.Message
					}
					c.deliver(ctx, out, types.PodEvent{
						At:  time.Now(),
						Err: cerrors.Error{ErrorCode: cerrors.ErrorTypeConnection, Target: fmt.Sprintf("{namespace: %s, selector: %s}", namespace, selector), Reason: reason},
					})
					return
				}
				if !c.deliver(ctx, out, types.PodEvent{
					Ref: types.PodRef{
						Name:      pod.Name,
						Namespace: pod.Namespace,
						UID:       pod.UID,
						Labels:    pod.Labels,
					},
					Phase: string(pod.Status.Phase),
					Ready: IsPodReady(pod),
					At:    time.Now(),
				}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *KubeClient) deliver(ctx context.Context, out chan<- types.PodEvent, event types.PodEvent) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// ReplicaStatus reads the desired and ready replica counts of the
// given deployment
func (c *KubeClient) ReplicaStatus(ctx context.Context, namespace, deployment string) (int32, int32, error) {
	var desired, ready int32
	err := retry.
		Times(readAttempts).
		Wait(readRetryWait).
		TryWithContext(ctx, func(attempt uint) error {
			deploy, err := c.clients.KubeClient.AppsV1().Deployments(namespace).Get(ctx, deployment, metav1.GetOptions{})
			if err != nil {
				return classify(err, fmt.Sprintf("{deployment: %s, namespace: %s}", deployment, namespace))
			}
			desired = int32(1)
			if deploy.Spec.Replicas != nil {
				desired = *deploy.Spec.Replicas
			}
			ready = deploy.Status.ReadyReplicas
			return nil
		})
	if err != nil {
		return 0, 0, stacktrace.Propagate(err, "could not read the replica status")
	}
	return desired, ready, nil
}

func (c *KubeClient) snapshot(pod *corev1.Pod) (types.PodRef, error) {
	ownerKind, ownerName, err := workloads.GetPodOwnerTypeAndName(pod, c.clients.DynamicClient)
	if err != nil {
		return types.PodRef{}, err
	}
	return types.PodRef{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		UID:       pod.UID,
		Labels:    pod.Labels,
		OwnerKind: ownerKind,
		OwnerName: ownerName,
		Phase:     string(pod.Status.Phase),
		Ready:     IsPodReady(pod),
	}, nil
}

// IsPodReady reports whether the pod is serving, it requires the
// Ready condition rather than the Running phase alone and excludes
// pods already marked for deletion
func IsPodReady(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady {
			return condition.Status == corev1.ConditionTrue
		}
	}
	return false
}

// classify maps a control-plane error onto the harness taxonomy
func classify(err error, target string) error {
	switch {
	case k8serrors.IsNotFound(err):
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeNotFound, Target: target, Reason: err.Error()}
	case k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err):
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeAuth, Target: target, Reason: err.Error()}
	default:
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeConnection, Target: target, Reason: err.Error()}
	}
}
