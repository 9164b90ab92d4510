// Package workflow schedules and runs persisted jobs.
//
// The Manager stores every submission as a job row, then a bounded set of
// workers claims due jobs atomically and hands them to the Handler
// registered for the job type (acquire, monitor, organize, scan, cleanup).
// Delayed submissions wait in the store until their run time, which is how
// handlers resubmit themselves for polling. Idle workers sleep until the
// earliest pending run time or until Submit wakes them.
//
// Handler errors are classified with services.Classify: transient failures
// below the attempt cap are rescheduled with exponential backoff, everything
// else finalizes the job as failed. Handlers that implement Exhauster are told
// when a transient failure used up the last attempt. Jobs left running by a
// previous process are returned to pending on Start, and a job interrupted by
// Stop is released without consuming an attempt.
//
// Each job runs with job_id, job_type, request_id and correlation_id context
// fields so every log line of a job chain can be grouped.
package workflow
