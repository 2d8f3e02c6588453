package status

import (
	"context"
	"fmt"
	"time"

	logrus "github.com/sirupsen/logrus"

	"github.com/litmuschaos/recovery-harness/pkg/cerrors"
	"github.com/litmuschaos/recovery-harness/pkg/cluster"
	"github.com/litmuschaos/recovery-harness/pkg/log"
	"github.com/litmuschaos/recovery-harness/pkg/math"
	"github.com/litmuschaos/recovery-harness/pkg/utils/retry"
)

// WaitForReplicaConvergence polls the deployment replica status until
// ready == desired or the convergence timeout elapses. It returns the
// last observed counts, the error is a replica-mismatch on timeout and
// a connection/auth error when the control plane stops answering.
func WaitForReplicaConvergence(ctx context.Context, client cluster.Client, namespace, deployment string, timeout, delay int) (int32, int32, error) {
	var desired, ready int32
	err := retry.
		Times(uint(math.Maximum(1, timeout/math.Maximum(1, delay)))).
		Wait(time.Duration(delay) * time.Second).
		TryWithContext(ctx, func(attempt uint) error {
			d, r, err := client.ReplicaStatus(ctx, namespace, deployment)
			if err != nil {
				return err
			}
			desired, ready = d, r
			if ready != desired {
				return cerrors.Error{
					ErrorCode: cerrors.ErrorTypeReplicaMismatch,
					Target:    fmt.Sprintf("{deployment: %s, namespace: %s}", deployment, namespace),
					Reason:    fmt.Sprintf("ready replicas %d have not converged to desired %d", ready, desired),
				}
			}
			log.InfoWithValues("[Status]: The deployment replicas have converged", logrus.Fields{
				"Deployment": deployment, "Desired": desired, "Ready": ready})
			return nil
		})
	return desired, ready, err
}

// CheckSteadyState verifies that the selector matches at least one pod
// and that every matched pod is serving, retrying until the timeout
func CheckSteadyState(ctx context.Context, client cluster.Client, namespace, selector string, timeout, delay int) error {
	return retry.
		Times(uint(math.Maximum(1, timeout/math.Maximum(1, delay)))).
		Wait(time.Duration(delay) * time.Second).
		TryWithContext(ctx, func(attempt uint) error {
			refs, err := client.ListPods(ctx, namespace, selector)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				return cerrors.Error{
					ErrorCode: cerrors.ErrorTypeNoTarget,
					Target:    fmt.Sprintf("{namespace: %s, selector: %s}", namespace, selector),
					Reason:    "no pods found with the matching labels",
				}
			}
			for _, ref := range refs {
				if !ref.Ready {
					return cerrors.Error{
						ErrorCode: cerrors.ErrorTypeNoTarget,
						Target:    fmt.Sprintf("{podName: %s, namespace: %s}", ref.Name, namespace),
						Reason:    fmt.Sprintf("pod is not yet in ready state, phase: %s", ref.Phase),
					}
				}
				log.InfoWithValues("[Status]: The pod status is as follows", logrus.Fields{
					"Pod": ref.Name, "Phase": ref.Phase, "Readiness": ref.Ready})
			}
			return nil
		})
}
