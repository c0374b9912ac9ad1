// Package preflight provides readiness checks for the filesystem paths and
// object-store endpoint that datastudio depends on.
//
// These checks run in two contexts:
//   - The pipeline calls CheckFreeSpace and CheckDirectoryAccess before it
//     creates a scratch tree, so a doomed run fails during validation.
//   - The CLI "datastudio doctor" command calls RunAll to display readiness.
package preflight
