package domain

import "time"

// ExecutionStatus labels the outcome of a tool invocation for metrics.
type ExecutionStatus string

const (
	StatusSuccess  ExecutionStatus = "success"
	StatusError    ExecutionStatus = "error"
	StatusNotFound ExecutionStatus = "not_found"
)

// Metrics records tool invocation outcomes. Every execute call emits
// exactly one observation; this is part of the dispatch contract so
// backend failures stay observable without log scraping.
type Metrics interface {
	ObserveExecution(tool string, status ExecutionStatus, duration time.Duration)
}
