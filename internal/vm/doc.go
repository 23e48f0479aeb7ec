// Package vm drives Proxmox VE guests through the qm command line tool.
//
// Two operations are provided:
//   - Controller.EnsureAbsent: the idempotency gate that removes any existing
//     guest holding a VMID before a template is rebuilt in its place
//   - Builder.Build: create a guest from a cached cloud image, configure it for
//     cloud-init, and convert it into a template
//
// Error Handling:
//
// Neither operation rolls back. A build that fails partway leaves a partially
// configured guest behind; the next run's EnsureAbsent removes it before the
// rebuild. Build errors name the step that failed.
//
// Context Support:
//
// Both operations accept a context.Context. Cancelling it kills the qm process
// that is currently running and stops the sequence.
package vm
