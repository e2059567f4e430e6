// Package security owns inbound frame admission and abuse escalation.
//
// Ownership boundary:
// - structural validation of decoded frame headers
// - anomaly registration with severity-based escalation
// - the timed IP ban table
// - the audit sink boundary for anomaly and ban records
package security
