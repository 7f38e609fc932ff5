// Package sync turns a roster snapshot and the directory's current state into
// the ordered work list of one job.
//
// There are three jobs:
//
//   - members creates accounts for active members and updates the profile of
//     members whose roster record changed since the last completed run.
//   - groups ensures every configured group exists and applies the membership
//     delta between the roster and the directory.
//   - lifecycle walks every managed account through the retirement states.
//
// A Plan is computed from scratch on every invocation. The batch executor
// processes its items and keeps the cursor between invocations; items that
// were applied drop out of the next plan, which resets the cursor because the
// list length changed.
package sync
