// Global database config.
package config

// Name of the database engine.
const DBName = "raptordb"

// Prompt printed by REPL.
const Prompt = DBName + "> "

// Pagesize is the size of an individual on-disk page in bytes.
const Pagesize = 8192

// MaxPagesInBuffer is the maximum number of pages resident in the buffer
// pool at once. 8000 pages * 8 KiB = ~64 MiB.
const MaxPagesInBuffer = 8000

// MaxOpenFiles bounds the number of files the file manager keeps open.
const MaxOpenFiles = 128

// TreeOrder is the default B+ tree order (max children per internal node).
const TreeOrder = 500

// DefaultDataDir is where databases live when no base directory is given.
const DefaultDataDir = "./data"

// CatalogFileName is the per-database metadata file.
const CatalogFileName = "catalog"

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
