package model

import "fmt"

// Folder is the per-account location of a mailbox entry. The set of
// folders is closed; use ParseFolder to convert untrusted input.
type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderSent    Folder = "sent"
	FolderSpam    Folder = "spam"
	FolderStarred Folder = "starred"
	FolderTrash   Folder = "trash"
)

// Folders lists every folder in display order.
var Folders = []Folder{
	FolderInbox, FolderSent, FolderSpam, FolderStarred, FolderTrash,
}

// Valid reports whether f is one of the known folders.
func (f Folder) Valid() bool {
	switch f {
	case FolderInbox, FolderSent, FolderSpam, FolderStarred, FolderTrash:
		return true
	default:
		return false
	}
}

// ParseFolder converts s into a Folder, rejecting unknown names.
func ParseFolder(s string) (Folder, error) {
	f := Folder(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown folder %q", s)
	}
	return f, nil
}

// IsSpam reports whether entries in f count as spam.
func (f Folder) IsSpam() bool {
	switch f {
	case FolderSpam:
		return true
	case FolderInbox, FolderSent, FolderStarred, FolderTrash:
		return false
	default:
		return false
	}
}
