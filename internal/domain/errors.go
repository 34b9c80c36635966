package domain

import "errors"

// Domain errors represent business-level errors that can occur in the system.
// Adapters wrap them with context; callers match with errors.Is.
var (
	// Resolution errors. Both are per-service and never fatal for a project.
	ErrResolutionFailed    = errors.New("digest resolution failed")
	ErrInvalidDigestFormat = errors.New("invalid digest format")

	// Manifest errors
	ErrManifestStructure = errors.New("invalid manifest structure")
	ErrNoServices        = errors.New("no services section")
	ErrServiceNotFound   = errors.New("service not found in manifest")
	ErrImageNotEditable  = errors.New("image field cannot be rewritten")

	// Container tool errors
	ErrToolNotFound   = errors.New("container tool not found")
	ErrToolInvocation = errors.New("container tool invocation failed")
	ErrPullFailed     = errors.New("failed to pull image")

	// Deployment errors
	ErrBackupFailed   = errors.New("failed to back up manifest")
	ErrRollbackFailed = errors.New("rollback failed, manual intervention required")

	// Config errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
