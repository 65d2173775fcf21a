// Package block implements the Block Adapter: the
// (read, write, sync, block_size, block_count, writable) surface the core
// exposes to filesystem drivers, built on top of a probed LUN and its
// Drive's command session.
package block
