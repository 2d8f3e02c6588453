package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	clientTypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	dfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/clients"
	"github.com/litmuschaos/recovery-harness/pkg/cluster"
	"github.com/litmuschaos/recovery-harness/pkg/report"
	"github.com/litmuschaos/recovery-harness/pkg/types"
)

func webPod(name string, uid clientTypes.UID, ready bool) *corev1.Pod {
	readiness := corev1.ConditionFalse
	if ready {
		readiness = corev1.ConditionTrue
	}
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
				{Type: corev1.PodReady, Status: readiness},
			},
		},
	}
}

func webDeployment(desired, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status:     appsv1.DeploymentStatus{ReadyReplicas: ready},
	}
}

func webReplicaSet() *unstructured.Unstructured {
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

func harnessDetails() *types.HarnessDetails {
	return &types.HarnessDetails{
		Namespace:          "default",
		Selector:           "app=web",
		Deployment:         "web",
		ProbeCount:         1,
		WatchTimeout:       5,
		ConvergenceTimeout: 2,
		Delay:              1,
		LatencyCeiling:     60000,
		PassThreshold:      1.0,
	}
}

func newProbe(objects ...runtime.Object) (*RecoveryProbe, *fake.Clientset, *watch.FakeWatcher) {
	kubeClient := fake.NewSimpleClientset(objects...)
	dynamicClient := dfake.NewSimpleDynamicClient(runtime.NewScheme(), webReplicaSet())

	fakeWatch := watch.NewFake()
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatch, nil))

	client := cluster.New(clients.ClientSets{KubeClient: kubeClient, DynamicClient: dynamicClient})
	return &RecoveryProbe{Client: client, Details: harnessDetails()}, kubeClient, fakeWatch
}

func TestRunObservesReplacement(t *testing.T) {
	target := webPod("web-5d59d67564-old", "uid-old", true)
	sibling := webPod("web-5d59d67564-sib", "uid-sib", false)
	replacement := webPod("web-5d59d67564-new", "uid-new", true)

	recoveryProbe, kubeClient, fakeWatch := newProbe(target, sibling, webDeployment(1, 1))

	// the sibling replica turns ready first, the replacement shows up
	// only after the target delete lands
	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		go func() {
			fakeWatch.Modify(webPod("web-5d59d67564-sib", "uid-sib", true))
			_, _ = kubeClient.CoreV1().Pods("default").Create(context.Background(), replacement, metav1.CreateOptions{})
			fakeWatch.Add(replacement)
		}()
		return false, nil, nil
	})

	result, err := recoveryProbe.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Replacement)
	assert.Equal(t, "web-5d59d67564-new", result.Replacement.Name)
	require.NotNil(t, result.LatencyMs)
	assert.GreaterOrEqual(t, *result.LatencyMs, int64(0))
	assert.Equal(t, int32(1), result.DesiredReplicas)
	assert.Equal(t, int32(1), result.ReadyReplicas)

	// the replacement carries the same labels and owner but a new identity
	assert.Equal(t, result.Target.Labels, result.Replacement.Labels)
	assert.Equal(t, result.Target.OwnerKind, result.Replacement.OwnerKind)
	assert.Equal(t, result.Target.OwnerName, result.Replacement.OwnerName)
	assert.NotEqual(t, result.Target.UID, result.Replacement.UID)

	// the probe tears its watch down once it is done
	assert.Eventually(t, fakeWatch.IsStopped, time.Second, 10*time.Millisecond)
}

func TestRunIgnoresReadySiblings(t *testing.T) {
	target := webPod("web-5d59d67564-old", "uid-old", true)
	sibling := webPod("web-5d59d67564-sib", "uid-sib", false)

	recoveryProbe, kubeClient, fakeWatch := newProbe(target, sibling, webDeployment(2, 1))
	recoveryProbe.Details.WatchTimeout = 1

	// no replacement is ever created, only the pre-existing sibling
	// turns ready after the delete
	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		go fakeWatch.Modify(webPod("web-5d59d67564-sib", "uid-sib", true))
		return false, nil, nil
	})

	result, err := recoveryProbe.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeTimeout, result.Outcome)
	assert.Nil(t, result.Replacement, "a pod alive before the delete must not count as the replacement")
	assert.Nil(t, result.LatencyMs)
}

func TestRunNoTarget(t *testing.T) {
	// the only matching pod is not ready, so there is nothing to delete
	recoveryProbe, _, _ := newProbe(webPod("web-5d59d67564-old", "uid-old", false), webDeployment(1, 0))

	result, err := recoveryProbe.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeNoTarget, result.Outcome)
	assert.NotEmpty(t, result.FailureReason)
	assert.Nil(t, result.Replacement)
	assert.Nil(t, result.LatencyMs)
}

func TestRunZeroWatchTimeout(t *testing.T) {
	recoveryProbe, _, _ := newProbe(webPod("web-5d59d67564-old", "uid-old", true), webDeployment(1, 1))
	recoveryProbe.Details.WatchTimeout = 0

	result, err := recoveryProbe.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeTimeout, result.Outcome)
	assert.Nil(t, result.LatencyMs)
	assert.Nil(t, result.ReplacementReadyAt)
}

func TestRunWatchDropIsFatal(t *testing.T) {
	recoveryProbe, kubeClient, fakeWatch := newProbe(webPod("web-5d59d67564-old", "uid-old", true), webDeployment(1, 1))

	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		go fakeWatch.Stop()
		return false, nil, nil
	})

	_, err := recoveryProbe.Run(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
}

func TestRunReplicaMismatch(t *testing.T) {
	target := webPod("web-5d59d67564-old", "uid-old", true)
	replacement := webPod("web-5d59d67564-new", "uid-new", true)

	// convergence never happens: two desired, one ready
	recoveryProbe, kubeClient, fakeWatch := newProbe(target, webDeployment(2, 1))
	recoveryProbe.Details.ConvergenceTimeout = 1
	recoveryProbe.Details.Delay = 1

	kubeClient.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		go func() {
			_, _ = kubeClient.CoreV1().Pods("default").Create(context.Background(), replacement, metav1.CreateOptions{})
			fakeWatch.Add(replacement)
		}()
		return false, nil, nil
	})

	result, err := recoveryProbe.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, report.OutcomeReplicaMismatch, result.Outcome)
	assert.Equal(t, int32(2), result.DesiredReplicas)
	assert.Equal(t, int32(1), result.ReadyReplicas)
	require.NotNil(t, result.LatencyMs)
}
