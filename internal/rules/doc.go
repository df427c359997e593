// Package rules scans file trees for rule violations and applies their fixes.
//
// A Rule inspects one file and reports Violations, optionally carrying a Fix.
// The Engine walks a tree, skips excluded and ignored paths, runs every
// applicable rule, and keeps a cumulative Report.
//
// AutoFix applies all fixes for a file in memory and replaces the file with a
// single rename. If any fix for the file cannot be applied, the file is left
// exactly as it was and all of its violations are reported failed.
package rules
