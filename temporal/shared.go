// temporal/shared.go
package temporal

import "time"

// DefaultTaskQueue is used when the configuration leaves the queue empty.
const DefaultTaskQueue = "newton-generation-queue"

// WorkflowIDPrefix starts every generation workflow ID.
const WorkflowIDPrefix = "newton-gen-"

// executionTimeoutMargin is added to the per-request deadline so the server
// side timeout only fires when the in-workflow deadline could not.
const executionTimeoutMargin = 5 * time.Minute
