package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"legal-intake-orchestrator/internal/domain"
)

const (
	ActivityPolicyRecognizeDocument = "recognize_document"
	ActivityPolicyMapFields         = "map_fields"
	ActivityPolicyValidateMapping   = "validate_mapping"
	ActivityPolicyAppendAudit       = "append_audit"
	ActivityPolicySaveSnapshot      = "save_snapshot"
	ActivityPolicyQueueReview       = "queue_review"
	ActivityPolicyFinalizeDocument  = "finalize_document"
	ActivityPolicyFailDocument      = "fail_document"
)

type activityPolicy struct {
	StartToCloseTimeout time.Duration
	RetryPolicy         temporal.RetryPolicy
}

// Capability failures are never retried by Temporal. The workflow pauses on
// them and waits for a stepControl signal instead.
var capabilityNonRetryable = []string{domain.CapabilityErrorType}

var defaultRetry = temporal.RetryPolicy{
	InitialInterval:    1 * time.Second,
	BackoffCoefficient: 2,
	MaximumInterval:    10 * time.Second,
	MaximumAttempts:    3,
}

var activityPolicies = map[string]activityPolicy{
	ActivityPolicyRecognizeDocument: {
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: capabilityNonRetryable,
		},
	},
	ActivityPolicyMapFields: {
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			MaximumAttempts:        1,
			NonRetryableErrorTypes: capabilityNonRetryable,
		},
	},
	ActivityPolicyValidateMapping: {
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy:         defaultRetry,
	},
	ActivityPolicyAppendAudit: {
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetry,
	},
	ActivityPolicySaveSnapshot: {
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetry,
	},
	ActivityPolicyQueueReview: {
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetry,
	},
	ActivityPolicyFinalizeDocument: {
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy:         defaultRetry,
	},
	ActivityPolicyFailDocument: {
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         defaultRetry,
	},
}

func ActivityOptionsFor(policyName string) (workflow.ActivityOptions, error) {
	policy, ok := activityPolicies[policyName]
	if !ok {
		return workflow.ActivityOptions{}, fmt.Errorf("unknown activity policy: %s", policyName)
	}

	retry := policy.RetryPolicy
	return workflow.ActivityOptions{
		StartToCloseTimeout: policy.StartToCloseTimeout,
		RetryPolicy:         &retry,
	}, nil
}

func mustActivityContext(ctx workflow.Context, policyName string) workflow.Context {
	ao, err := ActivityOptionsFor(policyName)
	if err != nil {
		panic(err)
	}
	return workflow.WithActivityOptions(ctx, ao)
}
