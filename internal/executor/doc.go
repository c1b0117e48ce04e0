// Package executor runs discovered test cases and decides their results.
//
// By default every case runs in a fresh child process: the harness re-executes
// its own binary with the case named in the environment, and the child calls
// the function under an in-process trap. A memory fault or an abort in one case
// therefore never reaches the harness. The inprocess isolation mode skips the
// child and uses the trap directly; a case that exits the process then ends
// the whole run with its own status.
//
// A child reports how its case ended on a status pipe inherited as descriptor
// 3, named by AUTOTEST_STATUS_FD. Its exit statuses 125, 134 and 139 only
// mirror that record, so a case calling os.Exit with one of them is still
// reported as a plain exit.
package executor
