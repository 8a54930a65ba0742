// Package container starts and stops inference backends through the Docker
// Engine API.
//
//   - docker.go: the narrow engine interface and client construction.
//   - launcher.go: Launcher (Start/Stop/Logs/Running/Sweep) and Handle.
//   - args.go: backend flag and container config construction.
//   - errors.go: LaunchError and helpers.
//
// Stop and Sweep are best effort and treat a missing container as success, so
// they are safe to call from deferred cleanup and after a crashed run.
package container
