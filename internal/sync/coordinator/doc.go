// Package coordinator runs one invocation of a job: it takes the job's
// lease, has the sync manager plan the work list, drives it through the batch
// executor, persists the run status and delivers the report.
//
// An external scheduler calls Run repeatedly. Each call resumes from the
// checkpoint the previous one left behind, so a work list larger than one
// invocation's quota completes over several calls.
package coordinator
