// Package daemonrun hosts the process runtime loops behind the conveyord and
// conveyor worker binaries: logger setup, store preparation, node startup,
// config watching and signal handling.
package daemonrun
