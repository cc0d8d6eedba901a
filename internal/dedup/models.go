package dedup

import "time"

// Block is the metadata record for one deduplicated block in a vault.
// Orphaned is set only by Index.Head, for bytes stored without a record.
type Block struct {
	BlockID     string
	StorageID   string
	Length      int64
	RefCount    int64
	RefModified time.Time
	Orphaned    bool
}

// File is the metadata record for a logical file in a vault.
// Revision increases every time blocks are assigned to an open file.
type File struct {
	FileID    string
	Finalized bool
	Length    int64
	Revision  int64
	CreatedAt time.Time
}

// Assignment places a block at a byte offset within a file.
type Assignment struct {
	BlockID string `json:"id"`
	Offset  int64  `json:"offset"`
}

// FileBlock is an assignment joined with the block it names.
// Known is false when the block has not been uploaded or is being deleted,
// in which case StorageID and Length are zero.
type FileBlock struct {
	BlockID   string
	Offset    int64
	StorageID string
	Length    int64
	Known     bool
}

// MetadataStats summarizes a vault's metadata.
type MetadataStats struct {
	BlockCount     int64 `json:"block_count"`
	TotalSize      int64 `json:"total_size"`
	FileCount      int64 `json:"file_count"`
	FileBlockCount int64 `json:"file_block_count"`
}

// StorageStats summarizes a vault's physical storage.
type StorageStats struct {
	BlockCount int64 `json:"block_count"`
	TotalSize  int64 `json:"total_size"`
}

// VaultStatistics combines metadata and storage statistics for a vault.
type VaultStatistics struct {
	Metadata MetadataStats `json:"metadata"`
	Storage  StorageStats  `json:"storage"`
}
