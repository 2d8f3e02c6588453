// Package workloads resolves the owning controller of a pod from its
// owner references, walking ReplicaSets and ReplicationControllers up
// to their parent workload.
package workloads

import (
	"context"
	"fmt"
	"strings"

	kcorev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
)

var (
	gvrrc = schema.GroupVersionResource{
		Group:    "",
		Version:  "v1",
		Resource: "replicationcontrollers",
	}

	gvrrs = schema.GroupVersionResource{
		Group:    "apps",
		Version:  "v1",
		Resource: "replicasets",
	}
)

// GetPodOwnerTypeAndName derives the controller owning the given pod.
// Pods owned by a ReplicaSet or ReplicationController are attributed to
// the parent workload (deployment, rollout, deploymentconfig) when one
// exists, otherwise to the direct owner.
func GetPodOwnerTypeAndName(pod *kcorev1.Pod, dynamicClient dynamic.Interface) (parentType, parentName string, err error) {
	for _, owner := range pod.GetOwnerReferences() {
		parentName = owner.Name
		if owner.Kind == "StatefulSet" || owner.Kind == "DaemonSet" {
			return strings.ToLower(owner.Kind), parentName, nil
		}

		if owner.Kind == "ReplicaSet" && strings.HasSuffix(owner.Name, pod.Labels["pod-template-hash"]) {
			return getParent(owner.Name, pod.Namespace, gvrrs, dynamicClient)
		}

		if owner.Kind == "ReplicationController" {
			return getParent(owner.Name, pod.Namespace, gvrrc, dynamicClient)
		}
	}
	return parentType, parentName, nil
}

func getParent(name, namespace string, gvr schema.GroupVersionResource, dynamicClient dynamic.Interface) (string, string, error) {
	res, err := dynamicClient.Resource(gvr).Namespace(namespace).Get(context.Background(), name, v1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			// the intermediate controller is gone, fall back to it as the owner
			return strings.TrimSuffix(gvr.Resource, "s"), name, nil
		}
		return "", "", classifyAPIError(err, fmt.Sprintf("{namespace: %s, kind: %s, name: %s}", namespace, gvr.Resource, name))
	}

	for _, v := range res.GetOwnerReferences() {
		kind := strings.ToLower(v.Kind)
		if kind == "deployment" || kind == "rollout" || kind == "deploymentconfig" {
			return kind, v.Name, nil
		}
	}
	return strings.TrimSuffix(gvr.Resource, "s"), name, nil
}

func classifyAPIError(err error, target string) error {
	if k8serrors.IsUnauthorized(err) || k8serrors.IsForbidden(err) {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeAuth, Target: target, Reason: err.Error()}
	}
	return cerrors.Error{ErrorCode: cerrors.ErrorTypeConnection, Target: target, Reason: err.Error()}
}
