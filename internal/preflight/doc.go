// Package preflight provides readiness checks for the directories and
// external services shelfarr depends on.
//
// The daemon runs RunAll at startup and logs every failing check; the CLI
// "shelfarr preflight" command prints the same results. Disabled clients
// and a disabled library integration are skipped.
package preflight
