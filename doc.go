// Package nativehook replaces native functions inside the running process.
//
// A Bridge resolves a symbol in one of several candidate libraries, patches
// its entry with a branch to a replacement, and can hand the replacement a
// callable address of the original. Threads calling the function while a
// hook is installed or removed see either the old or the new behaviour.
package nativehook
