// Package drive implements the data model (Drive, LUN handle,
// Filesystem Adapter) and the process-wide Drive Context Registry.
//
// Drive <-> LUN <-> FilesystemAdapter form a tree without upward pointers:
// a LUNHandle holds no reference to its parent Drive (the Drive is found in
// the Registry by its InterfaceID), and a FilesystemAdapter keeps its LUN's
// index within the Drive rather than a pointer to the LUNHandle. The
// Registry is the only arena that owns Drives by strong reference.
package drive
