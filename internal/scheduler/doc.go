// Package scheduler picks the one action each eligible node runs this tick.
// Decisions are a pure function of a fresh snapshot plus the policy
// thresholds; nothing is remembered between ticks. The gates in this package
// decide which nodes are eligible for a decision at all.
package scheduler
