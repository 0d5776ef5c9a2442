// Package fs abstracts the file operations of the local blob store so tests
// can inject I/O failures.
//
// Production code uses [Default], which is [LocalFS]. Tests wrap it in a
// [FaultyFS]:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("backups/", fs.Fault{FailAfterBytes: 1024})
//
// The interfaces take no context.Context; local file operations cannot be
// interrupted at the syscall level.
package fs
