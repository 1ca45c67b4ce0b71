// Package safe provides arithmetic helpers that make failure modes explicit,
// such as decimal division with zero checks and percentage calculations.
package safe
