// Package storage persists the alert pipeline's state.
//
// It holds:
//   - current_alerts: every alert ever announced, with its cumulative
//     publish count (rows are never deleted here)
//   - recipients: the read side of the recipient registry
package storage
