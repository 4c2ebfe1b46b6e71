package ntfs

import "time"

// Namespace is the $FILE_NAME namespace byte.
type Namespace byte

const (
	NamespacePosix     Namespace = 0
	NamespaceWin32     Namespace = 1
	NamespaceDos       Namespace = 2
	NamespaceWin32Dos  Namespace = 3
)

func (ns Namespace) String() string {
	switch ns {
	case NamespacePosix:
		return "POSIX"
	case NamespaceWin32:
		return "Win32"
	case NamespaceDos:
		return "DOS"
	case NamespaceWin32Dos:
		return "Win32&DOS"
	}

	return "Unknown"
}

// FileAttributes mirrors the on-disk DOS/NTFS file-attribute bit-field
// carried in both $STANDARD_INFORMATION and $FILE_NAME.
type FileAttributes uint32

const (
	FileAttributeReadOnly  FileAttributes = 0x00000001
	FileAttributeHidden    FileAttributes = 0x00000002
	FileAttributeSystem    FileAttributes = 0x00000004
	FileAttributeDirectory FileAttributes = 0x00000010
	FileAttributeArchive   FileAttributes = 0x00000020
	FileAttributeReparsePoint FileAttributes = 0x00000400
	FileAttributeCompressed   FileAttributes = 0x00000800
	FileAttributeEncrypted    FileAttributes = 0x00004000
)

func (fa FileAttributes) IsDirectory() bool    { return fa&FileAttributeDirectory != 0 }
func (fa FileAttributes) IsReparsePoint() bool { return fa&FileAttributeReparsePoint != 0 }
func (fa FileAttributes) IsCompressed() bool   { return fa&FileAttributeCompressed != 0 }
func (fa FileAttributes) IsEncrypted() bool    { return fa&FileAttributeEncrypted != 0 }

const (
	fileNameOffsetParentDirectory = 0x00
	fileNameOffsetCreationTime    = 0x08
	fileNameOffsetModificationTime = 0x10
	fileNameOffsetMftChangeTime    = 0x18
	fileNameOffsetAccessTime       = 0x20
	fileNameOffsetAllocatedSize    = 0x28
	fileNameOffsetDataSize         = 0x30
	fileNameOffsetFileAttributes   = 0x38
	fileNameOffsetNameLength       = 0x40
	fileNameOffsetNamespace        = 0x41
	fileNameOffsetName             = 0x42
)

// FileNameAttribute is the decoded content of a resident $FILE_NAME
// attribute.
type FileNameAttribute struct {
	ParentDirectory  FileReference
	CreationTime     time.Time
	ModificationTime time.Time
	MftChangeTime    time.Time
	AccessTime       time.Time
	AllocatedSize    uint64
	DataSize         uint64
	FileAttributes   FileAttributes
	Namespace        Namespace
	Name             string
}

// filetimeUnixEpochTicks is the number of 100ns FILETIME ticks between the
// FILETIME epoch (1601-01-01T00:00:00Z) and the Unix epoch
// (1970-01-01T00:00:00Z).
const filetimeUnixEpochTicks = 116444736000000000

// filetimeToTime converts a FILETIME tick count (100ns units since
// 1601-01-01) to a time.Time. Rebasing onto the Unix epoch before splitting
// into seconds/nanoseconds avoids overflowing time.Duration's int64
// nanosecond range, which a direct ticks*100 multiply does for any
// present-day timestamp.
func filetimeToTime(ticks uint64) time.Time {
	unixTicks := int64(ticks) - filetimeUnixEpochTicks

	seconds := unixTicks / 10000000
	nanos := (unixTicks % 10000000) * 100

	if nanos < 0 {
		seconds--
		nanos += 1000000000
	}

	return time.Unix(seconds, nanos).UTC()
}

// ParseFileName decodes a resident $FILE_NAME attribute's content.
func ParseFileName(attr *MftAttribute) *FileNameAttribute {
	if attr.attrType != AttributeTypeFileName {
		panicKind(ErrInvalidRecord, "not a $FILE_NAME attribute: (%s)", attr.attrType)
	}

	return parseFileNameData(attr.ResidentData())
}

// parseFileNameData decodes a $FILE_NAME-shaped byte slice. $I30 index
// entries store the identical layout as their key, so IndexEngine reuses
// this directly instead of a separate parser.
func parseFileNameData(data []byte) *FileNameAttribute {
	if len(data) < fileNameOffsetName {
		panicKind(ErrInvalidRecord, "$FILE_NAME content truncated")
	}

	nameLength := int(data[fileNameOffsetNameLength])
	nameEnd := fileNameOffsetName + nameLength*2

	if nameEnd > len(data) {
		panicKind(ErrInvalidRecord, "$FILE_NAME name (%d chars) runs past its content", nameLength)
	}

	return &FileNameAttribute{
		ParentDirectory:  FileReference(ntfsByteOrder.Uint64(data[fileNameOffsetParentDirectory:])),
		CreationTime:     filetimeToTime(ntfsByteOrder.Uint64(data[fileNameOffsetCreationTime:])),
		ModificationTime: filetimeToTime(ntfsByteOrder.Uint64(data[fileNameOffsetModificationTime:])),
		MftChangeTime:    filetimeToTime(ntfsByteOrder.Uint64(data[fileNameOffsetMftChangeTime:])),
		AccessTime:       filetimeToTime(ntfsByteOrder.Uint64(data[fileNameOffsetAccessTime:])),
		AllocatedSize:    ntfsByteOrder.Uint64(data[fileNameOffsetAllocatedSize:]),
		DataSize:         ntfsByteOrder.Uint64(data[fileNameOffsetDataSize:]),
		FileAttributes:   FileAttributes(ntfsByteOrder.Uint32(data[fileNameOffsetFileAttributes:])),
		Namespace:        Namespace(data[fileNameOffsetNamespace]),
		Name:             decodeUtf16Le(data[fileNameOffsetName:nameEnd]),
	}
}

const (
	stdInfoOffsetCreationTime     = 0x00
	stdInfoOffsetModificationTime = 0x08
	stdInfoOffsetMftChangeTime    = 0x10
	stdInfoOffsetAccessTime       = 0x18
	stdInfoOffsetFileAttributes   = 0x20
	stdInfoMinSize                = 0x30
)

// StandardInformationAttribute is the decoded content of a resident
// $STANDARD_INFORMATION attribute (the timestamp/attribute fields common to
// both the v1.2 and v3.x on-disk layouts; the v3.x quota/usn trailer is not
// surfaced).
type StandardInformationAttribute struct {
	CreationTime     time.Time
	ModificationTime time.Time
	MftChangeTime    time.Time
	AccessTime       time.Time
	FileAttributes   FileAttributes
}

func ParseStandardInformation(attr *MftAttribute) *StandardInformationAttribute {
	if attr.attrType != AttributeTypeStandardInformation {
		panicKind(ErrInvalidRecord, "not a $STANDARD_INFORMATION attribute: (%s)", attr.attrType)
	}

	data := attr.ResidentData()
	if len(data) < stdInfoMinSize {
		panicKind(ErrInvalidRecord, "$STANDARD_INFORMATION attribute truncated")
	}

	return &StandardInformationAttribute{
		CreationTime:     filetimeToTime(ntfsByteOrder.Uint64(data[stdInfoOffsetCreationTime:])),
		ModificationTime: filetimeToTime(ntfsByteOrder.Uint64(data[stdInfoOffsetModificationTime:])),
		MftChangeTime:    filetimeToTime(ntfsByteOrder.Uint64(data[stdInfoOffsetMftChangeTime:])),
		AccessTime:       filetimeToTime(ntfsByteOrder.Uint64(data[stdInfoOffsetAccessTime:])),
		FileAttributes:   FileAttributes(ntfsByteOrder.Uint32(data[stdInfoOffsetFileAttributes:])),
	}
}
