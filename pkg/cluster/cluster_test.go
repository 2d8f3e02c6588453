package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clientTypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	dfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/clients"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

func readyPod(name string, uid clientTypes.UID) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			UID:       uid,
			Labels:    map[string]string{"app": "web", "pod-template-hash": "5d59d67564"},
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "ReplicaSet", Name: "web-5d59d67564"},
			},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	}
}

func replicaSetObject() *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "ReplicaSet",
		"metadata": map[string]interface{}{
			"name":      "web-5d59d67564",
			"namespace": "default",
			"ownerReferences": []interface{}{
				map[string]interface{}{
					"apiVersion": "apps/v1",
					"kind":       "Deployment",
					"name":       "web",
					"uid":        "uid-web",
				},
			},
		},
	}}
}

func newTestClient(objects ...runtime.Object) (*KubeClient, *fake.Clientset) {
	kubeClient := fake.NewSimpleClientset(objects...)
	dynamicClient := dfake.NewSimpleDynamicClient(runtime.NewScheme(), replicaSetObject())
	return New(clients.ClientSets{KubeClient: kubeClient, DynamicClient: dynamicClient}), kubeClient
}

func TestListPods(t *testing.T) {
	client, _ := newTestClient(readyPod("web-5d59d67564-zxvbn", "uid-1"))

	refs, err := client.ListPods(context.Background(), "default", "app=web")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	assert.Equal(t, "web-5d59d67564-zxvbn", refs[0].Name)
	assert.Equal(t, clientTypes.UID("uid-1"), refs[0].UID)
	assert.Equal(t, "deployment", refs[0].OwnerKind)
	assert.Equal(t, "web", refs[0].OwnerName)
	assert.True(t, refs[0].Ready)
}

func TestListPodsRetriesTransientFailure(t *testing.T) {
	client, kubeClient := newTestClient(readyPod("web-5d59d67564-zxvbn", "uid-1"))

	calls := 0
	kubeClient.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		calls++
		if calls == 1 {
			return true, nil, k8serrors.NewInternalError(assert.AnError)
		}
		return false, nil, nil
	})

	refs, err := client.ListPods(context.Background(), "default", "app=web")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, 2, calls)
}

func TestDeletePodForcedUsesZeroGracePeriod(t *testing.T) {
	client, kubeClient := newTestClient(readyPod("web-5d59d67564-zxvbn", "uid-1"))

	var captured *metav1.DeleteOptions
	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		deleteAction := action.(k8stesting.DeleteActionImpl)
		captured = &deleteAction.DeleteOptions
		return false, nil, nil
	})

	ref, err := client.ListPods(context.Background(), "default", "app=web")
	require.NoError(t, err)

	require.NoError(t, client.DeletePod(context.Background(), ref[0], false))
	require.NotNil(t, captured)
	require.NotNil(t, captured.GracePeriodSeconds)
	assert.Equal(t, int64(0), *captured.GracePeriodSeconds)
}

func TestDeletePodGracefulKeepsDefaultGracePeriod(t *testing.T) {
	client, kubeClient := newTestClient(readyPod("web-5d59d67564-zxvbn", "uid-1"))

	var captured *metav1.DeleteOptions
	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		deleteAction := action.(k8stesting.DeleteActionImpl)
		captured = &deleteAction.DeleteOptions
		return false, nil, nil
	})

	ref, err := client.ListPods(context.Background(), "default", "app=web")
	require.NoError(t, err)

	require.NoError(t, client.DeletePod(context.Background(), ref[0], true))
	require.NotNil(t, captured)
	assert.Nil(t, captured.GracePeriodSeconds)
}

func TestDeletePodClassification(t *testing.T) {
	client, kubeClient := newTestClient()

	ref, err := client.ListPods(context.Background(), "default", "app=web")
	require.NoError(t, err)
	require.Empty(t, ref)

	// deleting a pod that is already gone
	err = client.DeletePod(context.Background(), podRef("absent"), true)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeNotFound, cerrors.GetErrorType(err))

	// credentials rejected by the control plane
	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8serrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "web-1", assert.AnError)
	})
	err = client.DeletePod(context.Background(), podRef("web-1"), true)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrorTypeAuth, cerrors.GetErrorType(err))
}

func TestReplicaStatus(t *testing.T) {
	desired := int32(3)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: 2},
	}
	client, _ := newTestClient(deployment)

	gotDesired, gotReady, err := client.ReplicaStatus(context.Background(), "default", "web")
	require.NoError(t, err)
	assert.Equal(t, int32(3), gotDesired)
	assert.Equal(t, int32(2), gotReady)
}

func TestWatchPodsDeliversReadyEvent(t *testing.T) {
	client, kubeClient := newTestClient()

	fakeWatch := watch.NewFake()
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatch, nil))

	events, err := client.WatchPods(context.Background(), "default", "app=web", 5*time.Second)
	require.NoError(t, err)

	go fakeWatch.Add(readyPod("web-5d59d67564-new", "uid-2"))

	event := <-events
	require.NoError(t, event.Err)
	assert.Equal(t, "web-5d59d67564-new", event.Ref.Name)
	assert.True(t, event.Ready)
	assert.Equal(t, string(corev1.PodRunning), event.Phase)
}

func TestWatchPodsSurfacesTransportFailure(t *testing.T) {
	client, kubeClient := newTestClient()

	fakeWatch := watch.NewFake()
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatch, nil))

	events, err := client.WatchPods(context.Background(), "default", "app=web", 5*time.Second)
	require.NoError(t, err)

	fakeWatch.Stop()

	event, ok := <-events
	require.True(t, ok)
	require.Error(t, event.Err)
	assert.Equal(t, cerrors.ErrorTypeConnection, cerrors.GetErrorType(event.Err))

	_, ok = <-events
	assert.False(t, ok)
}

func TestWatchPodsZeroTimeoutClosesWithoutEvents(t *testing.T) {
	client, kubeClient := newTestClient()

	// an event already pending when the watch opens must not slip
	// through a zero budget
	fakeWatch := watch.NewFakeWithChanSize(1, false)
	fakeWatch.Add(readyPod("web-5d59d67564-new", "uid-2"))
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatch, nil))

	events, err := client.WatchPods(context.Background(), "default", "app=web", 0)
	require.NoError(t, err)

	observed := 0
	for range events {
		observed++
	}
	assert.Zero(t, observed, "a zero watch budget must observe nothing")
}

func TestWatchPodsStopsOnContextCancel(t *testing.T) {
	client, kubeClient := newTestClient()

	fakeWatch := watch.NewFake()
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatch, nil))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.WatchPods(ctx, "default", "app=web", 30*time.Second)
	require.NoError(t, err)

	cancel()

	_, ok := <-events
	assert.False(t, ok, "cancellation must end the stream")
	assert.Eventually(t, fakeWatch.IsStopped, time.Second, 10*time.Millisecond)
}

func TestIsPodReady(t *testing.T) {
	pod := readyPod("web-1", "uid-1")
	assert.True(t, IsPodReady(pod))

	terminating := readyPod("web-1", "uid-1")
	now := metav1.Now()
	terminating.DeletionTimestamp = &now
	assert.False(t, IsPodReady(terminating))

	pending := readyPod("web-1", "uid-1")
	pending.Status.Phase = corev1.PodPending
	assert.False(t, IsPodReady(pending))

	notReady := readyPod("web-1", "uid-1")
	notReady.Status.Conditions[0].Status = corev1.ConditionFalse
	assert.False(t, IsPodReady(notReady))
}

func podRef(name string) types.PodRef {
	return types.PodRef{Name: name, Namespace: "default"}
}
