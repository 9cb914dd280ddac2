// Package attributes evaluates custom span attribute expressions.
//
// Expressions use the expr language and see one traced child as:
//
//	pid        child pid
//	ppid       shell pid
//	pwd        resolved working directory
//	shell_cwd  shell current directory at check time
//	match      whether the two agree
//	attempts   environment polls it took to resolve pwd
//	env        child environment, read once after resolution
//
// A map result expands into one attribute per key ("name.KEY").
package attributes
