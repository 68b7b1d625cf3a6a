// Package container reads PFS0 (PartitionFS) archives — the flat
// file-table format NSP packages use to bundle NCA payloads and ticket
// files — and resolves an NSP's title key from its bundled .tik ticket.
// Grounded on the teacher's pkg/fs/pfs0.go and the ticket-scanning logic
// in the teacher's cmd/nsz/main.go, generalized to hand entries out as
// vfs.File sections instead of raw offsets so callers can feed them
// straight into nca.NewReader.
package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/keys"
	"github.com/falk/nca-go/pkg/vfs"
)

const (
	pfs0Magic      = "PFS0"
	pfs0HeaderSize = 16
	pfs0EntrySize  = 24

	// ticketTitleKeyOffset/ticketTitleKeySize locate the (possibly
	// rights-id-encrypted) title key inside a standard 0x180-style
	// personalized or common ticket body, matching the teacher's fixed
	// 0x180/0x10 read.
	ticketTitleKeyOffset = 0x180
	ticketTitleKeySize   = 0x10
)

// Entry is one file named in a PFS0's string table.
type Entry struct {
	Name       string
	DataOffset int64
	DataSize   int64
}

// Archive is a parsed PFS0 container: the entry table plus the base file
// it was read from, so callers can carve out a vfs.File per entry.
type Archive struct {
	base    vfs.File
	entries []Entry
	// dataBase is the absolute offset the first entry's DataOffset is
	// relative to (header + entry table + string table).
	dataBase int64
}

// Open parses a PFS0 header, entry table and string table from base.
func Open(base vfs.File) (*Archive, error) {
	header := make([]byte, pfs0HeaderSize)
	if err := vfs.ReadFull(base, header, 0); err != nil {
		return nil, err
	}
	if string(header[0:4]) != pfs0Magic {
		return nil, fmt.Errorf("container: invalid pfs0 magic %q", header[0:4])
	}
	numFiles := binary.LittleEndian.Uint32(header[4:8])
	stringTableSize := binary.LittleEndian.Uint32(header[8:12])

	entryTable := make([]byte, int(numFiles)*pfs0EntrySize)
	if err := vfs.ReadFull(base, entryTable, pfs0HeaderSize); err != nil {
		return nil, err
	}

	stringTableOffset := int64(pfs0HeaderSize) + int64(len(entryTable))
	stringTable := make([]byte, stringTableSize)
	if err := vfs.ReadFull(base, stringTable, stringTableOffset); err != nil {
		return nil, err
	}

	dataBase := stringTableOffset + int64(stringTableSize)

	entries := make([]Entry, numFiles)
	for i := 0; i < int(numFiles); i++ {
		raw := entryTable[i*pfs0EntrySize : (i+1)*pfs0EntrySize]
		dataOffset := int64(binary.LittleEndian.Uint64(raw[0:8]))
		dataSize := int64(binary.LittleEndian.Uint64(raw[8:16]))
		nameOffset := binary.LittleEndian.Uint32(raw[16:20])

		name, err := readName(stringTable, nameOffset)
		if err != nil {
			return nil, err
		}
		entries[i] = Entry{Name: name, DataOffset: dataOffset, DataSize: dataSize}
	}

	return &Archive{base: base, entries: entries, dataBase: dataBase}, nil
}

func readName(table []byte, offset uint32) (string, error) {
	if offset >= uint32(len(table)) {
		return "", fmt.Errorf("container: name offset out of bounds")
	}
	end := offset
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[offset:end]), nil
}

// Entries lists every file the archive's string table names.
func (a *Archive) Entries() []Entry { return a.entries }

// Section returns e's bytes as a standalone random-access File, suitable
// for nca.NewReader or further container.Open nesting.
func (a *Archive) Section(e Entry) vfs.File {
	return vfs.NewOffsetFile(a.base, a.dataBase+e.DataOffset, e.DataSize)
}

// FindByExt returns the first entry whose name has the given extension
// (case-insensitive, leading dot included, e.g. ".nca").
func (a *Archive) FindByExt(ext string) (Entry, bool) {
	for _, e := range a.entries {
		if strings.EqualFold(filepath.Ext(e.Name), ext) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindTitleKey scans a, looking for a .tik ticket, reads its encrypted
// title key, and unwraps it with km's titlekek for masterKeyGen. Mirrors
// the teacher's inline ticket-scanning loop in cmd/nsz/main.go, factored
// into a reusable helper per spec §4.14.
func FindTitleKey(a *Archive, km *keys.FileKeySet, masterKeyGen int) (aescrypto.Key128, bool, error) {
	tik, ok := a.FindByExt(".tik")
	if !ok {
		return aescrypto.Key128{}, false, nil
	}

	section := a.Section(tik)
	needed := int64(ticketTitleKeyOffset + ticketTitleKeySize)
	if section.Size() < needed {
		return aescrypto.Key128{}, false, fmt.Errorf("container: ticket %q too small", tik.Name)
	}

	buf := make([]byte, ticketTitleKeySize)
	n, err := section.Read(buf, ticketTitleKeyOffset)
	if err != nil {
		return aescrypto.Key128{}, false, err
	}
	if n != ticketTitleKeySize {
		return aescrypto.Key128{}, false, io.ErrUnexpectedEOF
	}

	key, err := km.DecryptTitleKey(buf, masterKeyGen)
	if err != nil {
		return aescrypto.Key128{}, false, err
	}
	return key, true, nil
}
