// Package pipeline implements the job processors that drive a request from
// a chosen source to a confirmed library item.
//
// Acquire hands the source to a download client and records the attempt.
// Monitor polls the client and resubmits itself until the download finishes,
// then submits Organize, which places and tags the files through the
// organizer. Scan reconciles organized requests against the Audiobookshelf
// library, and Cleanup removes seeded downloads once the configured minimum
// seed time is met. Scan and Cleanup keep themselves alive by resubmission
// when started as recurring jobs.
//
// Processors never retry on their own. Transient failures are returned to
// the workflow manager, which reschedules the job; permanent failures move
// the request to failed with the causing message. Best-effort steps (post
// processing, library scans, notifications) only log.
package pipeline
