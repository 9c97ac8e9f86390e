// Package exitcodes defines the process exit codes of op-scenario.
//
// * Success (0): every selected scenario passed, was bypassed or ignored
// * TestFailure (1): at least one scenario failed
// * RuntimeErr (2): configuration errors, panics or other failures outside the scenarios
package exitcodes

const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
