// Package fetch defines the core types shared across the acquisition
// pipeline: requests, jobs, attempt history, strategy and policy interfaces,
// the failure taxonomy, and the structured records produced after a
// successful retrieval.
package fetch
