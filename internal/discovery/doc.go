// Package discovery turns the symbols of an executable image into test cases.
//
// A test case is a function whose name follows the convention
//
//	[_]TEST_[SEGV_|ABRT_|FAIL_]...<name>
//
// The leading underscore marks a skipped case. SEGV_ and ABRT_ declare that a
// memory fault or an abort is an accepted outcome, and FAIL_ inverts the
// verdict. Go symbol names are package qualified, so main.TEST_hello and
// example.com/pkg.TEST_hello both name the case "hello". They stay two cases:
// the list is keyed by the function a case runs.
//
// Symbols are enumerated by one of three strategies. The dynamic strategy walks
// the live process image through its dynamic section. The sections strategy
// reads .symtab from the executable file, or .gopclntab when the binary is
// stripped. Go functions are only found in those, so auto reads them and
// merges in the dynamic symbols when the image has any.
package discovery
