package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Environment lifecycle errors
// 12000-12999: Submission & Validation errors
// 13000-13999: Round execution errors
// 14000-14999: Scoring & Stats errors
// 15000-15999: Match & Scheduler errors
// 16000-16999: Trajectory & Leaderboard errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError      ErrorCode = 10001
	InvalidParams      ErrorCode = 10002
	NotFound           ErrorCode = 10003
	Timeout            ErrorCode = 10004
	ServiceUnavailable ErrorCode = 10005
	Cancelled          ErrorCode = 10006

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10301

	// ========== Environment Lifecycle Errors (11000-11999) ==========

	// Provisioning (11000-11099)
	EnvironmentProvisionFailed ErrorCode = 11000
	EnvironmentNotReady        ErrorCode = 11001
	EnvironmentUnhealthy       ErrorCode = 11002
	EnvironmentTornDown        ErrorCode = 11003

	// In-round faults (11100-11199)
	EnvironmentFault       ErrorCode = 11100
	EnvironmentUnreachable ErrorCode = 11101

	// Code install (11200-11299)
	InstallFailed ErrorCode = 11200

	// ========== Submission & Validation Errors (12000-12999) ==========

	SubmissionMissing ErrorCode = 12000
	SubmissionInvalid ErrorCode = 12001
	SubmissionEmpty   ErrorCode = 12002

	// ========== Round Execution Errors (13000-13999) ==========

	ExecutionTimeout ErrorCode = 13000
	ExecutionCrashed ErrorCode = 13001
	EngineExitError  ErrorCode = 13002
	GameNotFound     ErrorCode = 13003

	// ========== Scoring & Stats Errors (14000-14999) ==========

	ScoringAmbiguous ErrorCode = 14000
	ScoringFailed    ErrorCode = 14001
	ResultMissing    ErrorCode = 14002

	// ========== Match & Scheduler Errors (15000-15999) ==========

	MatchAborted        ErrorCode = 15000
	MatchNotFound       ErrorCode = 15001
	FaultLimitExceeded  ErrorCode = 15002
	SchedulerPoolClosed ErrorCode = 15100

	// ========== Trajectory & Leaderboard Errors (16000-16999) ==========

	ArtifactUploadFailed  ErrorCode = 16000
	RecordPublishFailed   ErrorCode = 16001
	RecordEncodeFailed    ErrorCode = 16002
	LeaderboardStoreError ErrorCode = 16100
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:            "Success",
	InternalError:      "Internal error",
	InvalidParams:      "Invalid parameters",
	NotFound:           "Resource not found",
	Timeout:            "Operation timed out",
	ServiceUnavailable: "Service temporarily unavailable",
	Cancelled:          "Operation cancelled",

	// Validation
	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	// Environment
	EnvironmentProvisionFailed: "Failed to provision execution environment",
	EnvironmentNotReady:        "Execution environment is not ready",
	EnvironmentUnhealthy:       "Execution environment failed health check",
	EnvironmentTornDown:        "Execution environment has been torn down",
	EnvironmentFault:           "Execution environment fault",
	EnvironmentUnreachable:     "Execution environment is unreachable",
	InstallFailed:              "Failed to install submission into environment",

	// Submission
	SubmissionMissing: "Player submission is missing",
	SubmissionInvalid: "Player submission failed validation",
	SubmissionEmpty:   "Player submission is empty",

	// Execution
	ExecutionTimeout: "Round execution timed out",
	ExecutionCrashed: "Round execution crashed",
	EngineExitError:  "Game engine exited with non-zero status",
	GameNotFound:     "Game adapter not found",

	// Scoring
	ScoringAmbiguous: "Round outcome is indeterminate",
	ScoringFailed:    "Failed to score round outcome",
	ResultMissing:    "Round result output is missing",

	// Match & Scheduler
	MatchAborted:        "Match aborted",
	MatchNotFound:       "Match not found",
	FaultLimitExceeded:  "Consecutive fault threshold exceeded",
	SchedulerPoolClosed: "Scheduler worker pool is closed",

	// Trajectory & Leaderboard
	ArtifactUploadFailed:  "Failed to upload round artifact",
	RecordPublishFailed:   "Failed to publish round record",
	RecordEncodeFailed:    "Failed to encode record",
	LeaderboardStoreError: "Leaderboard store operation failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Fatal reports whether the code terminates a match rather than a single
// round. Per-round errors are absorbed into RoundStats at the arena level;
// only these codes may surface as a terminal abort reason.
func (c ErrorCode) Fatal() bool {
	switch c {
	case EnvironmentProvisionFailed, FaultLimitExceeded, Cancelled, MatchAborted:
		return true
	default:
		return false
	}
}
