package events

import (
	"context"
	"strings"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/litmuschaos/recovery-harness/pkg/clients"
)

// EventDetails is for collecting all the attributes of a run event
type EventDetails struct {
	Reason     string
	Message    string
	Namespace  string
	Deployment string
	Source     string
}

func eventName(details *EventDetails) string {
	return strings.ToLower(details.Reason) + "." + details.Deployment
}

// CreateEvent creates the event against the deployment under test
func CreateEvent(ctx context.Context, details *EventDetails, clientSets clients.ClientSets) error {
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      eventName(details),
			Namespace: details.Namespace,
		},
		Source: corev1.EventSource{
			Component: details.Source,
		},
		Message:        details.Message,
		Reason:         details.Reason,
		Type:           corev1.EventTypeNormal,
		Count:          1,
		FirstTimestamp: metav1.Now(),
		LastTimestamp:  metav1.Now(),
		InvolvedObject: corev1.ObjectReference{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
			Name:       details.Deployment,
			Namespace:  details.Namespace,
		},
	}

	_, err := clientSets.KubeClient.CoreV1().Events(details.Namespace).Create(ctx, event, metav1.CreateOptions{})
	return err
}

// GenerateEvent creates the event or bumps its count when it was
// already posted by an earlier run against the same deployment
func GenerateEvent(ctx context.Context, details *EventDetails, clientSets clients.ClientSets) error {
	event, err := clientSets.KubeClient.CoreV1().Events(details.Namespace).Get(ctx, eventName(details), metav1.GetOptions{})
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return CreateEvent(ctx, details, clientSets)
		}
		return err
	}

	event.Count = event.Count + 1
	event.Message = details.Message
	event.LastTimestamp = metav1.Now()

	_, err = clientSets.KubeClient.CoreV1().Events(details.Namespace).Update(ctx, event, metav1.UpdateOptions{})
	return err
}
