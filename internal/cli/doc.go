// Package cli implements the modelprobe command tree.
//
// Files:
//   - cli.go         (MainWithArgs, exit codes)
//   - cobra_root.go  (command tree and flags)
//   - options.go     (Options, config loading and flag overrides)
//   - logenv.go      (zerolog setup, env helpers)
//   - actions.go     (fn* action hooks used by the commands)
//   - wiring.go      (building the scheduler and its collaborators)
package cli
