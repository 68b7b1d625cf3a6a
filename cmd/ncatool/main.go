// Command ncatool lists and extracts sections of an NCA (or an NSP bundling
// one), driven entirely through the layered read pipeline in pkg/nca and
// pkg/storage. Grounded on the teacher's cmd/nsz/main.go: same flag-driven
// shape (stdlib flag, a keys path flag, a positional input file), same
// "load keys, try PFS0, fall back to bare NCA" dispatch, generalized from a
// one-shot compressor into a list/extract tool.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/falk/nca-go/pkg/aescrypto"
	"github.com/falk/nca-go/pkg/container"
	"github.com/falk/nca-go/pkg/keys"
	"github.com/falk/nca-go/pkg/nca"
	"github.com/falk/nca-go/pkg/nczlog"
	"github.com/falk/nca-go/pkg/storage"
	"github.com/falk/nca-go/pkg/vfs"
)

func main() {
	keysPath := flag.String("k", "", "Path to prod.keys")
	fsIndex := flag.Int("fs", -1, "FS section index to extract (0-3); -1 lists sections")
	outPath := flag.String("o", "", "Output path for extracted section (defaults to stdout)")
	verify := flag.Bool("verify", false, "Verify hash-layer integrity while reading")
	raw := flag.Bool("raw", false, "Skip hash/compression layers, return the raw decrypted section")
	flag.Parse()

	log := nczlog.Default()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("Usage: ncatool [options] <file.nca|file.nsp>")
		return
	}
	inputFile := args[0]

	km := keys.NewFileKeySet()
	var err error
	if *keysPath != "" {
		err = km.Load(*keysPath)
	} else {
		err = km.LoadDefault()
	}
	if err != nil {
		log.Warnf("could not load keys: %v", err)
		log.Warnf("provide a keys file with -k or place one at ~/.switch/prod.keys")
	} else if err := km.DeriveKeys(); err != nil {
		log.Warnf("key derivation failed: %v", err)
	}

	f, err := os.Open(inputFile)
	if err != nil {
		log.Errorf("opening file: %v", err)
		os.Exit(1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Errorf("stat: %v", err)
		os.Exit(1)
	}
	base := vfs.NewOSFile(f, info.Size())

	ncaFile, titlekey, err := resolveNca(base, km, log)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	reader, err := nca.NewReader(ncaFile, km, storage.NewDefaultDecompressors())
	if err != nil {
		log.Errorf("parsing nca: %v", err)
		os.Exit(1)
	}
	if reader.Header().HasRightsID() {
		if titlekey == nil {
			log.Errorf("nca requires a title key (rights_id set) but none was found")
			os.Exit(1)
		}
		reader.SetExternalDecryptionKey(*titlekey)
	}

	if *fsIndex < 0 {
		listSections(reader, log)
		return
	}

	if err := extractSection(reader, *fsIndex, *outPath, *verify, *raw); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// resolveNca accepts either a bare NCA or an NSP; for an NSP it locates the
// first .nca entry and, if present, a .tik ticket to resolve the title key,
// mirroring the teacher's ticket-scanning loop via container.FindTitleKey.
func resolveNca(base vfs.File, km *keys.FileKeySet, log *nczlog.Logger) (vfs.File, *aescrypto.Key128, error) {
	archive, err := container.Open(base)
	if err != nil {
		// Not a PFS0; treat the whole file as a bare NCA.
		return base, nil, nil
	}

	ncaEntry, ok := archive.FindByExt(".nca")
	if !ok {
		return nil, nil, fmt.Errorf("no .nca entry found in pfs0 container")
	}
	log.Infof("found pfs0 container with %d entries, using %s", len(archive.Entries()), ncaEntry.Name)

	ncaSection := archive.Section(ncaEntry)

	// Peek the proper key generation straight out of the plaintext header
	// region so FindTitleKey can pick the right titlekek slot, same
	// simplification the teacher's main.go makes ("assume all NCAs use
	// the same MK gen").
	var titlekey *aescrypto.Key128
	headerBuf := make([]byte, nca.HeaderSize)
	if err := vfs.ReadFull(ncaSection, headerBuf, 0); err == nil {
		if hdr, herr := nca.ParseHeader(headerBuf); herr == nil && hdr.HasRightsID() {
			key, found, terr := container.FindTitleKey(archive, km, hdr.MasterKeyID())
			if terr != nil {
				log.Warnf("ticket lookup failed: %v", terr)
			} else if found {
				km.SetTitlekey(hdr.RightsID, key)
				titlekey = &key
				log.Infof("resolved title key from bundled ticket")
			}
		}
	}

	return ncaSection, titlekey, nil
}

func listSections(reader *nca.Reader, log *nczlog.Logger) {
	hdr := reader.Header()
	fmt.Printf("Content type: %d  Program ID: %016x  Rights ID set: %v\n", hdr.ContentType, hdr.ProgramID, hdr.HasRightsID())
	for i := 0; i < 4; i++ {
		if !reader.HasFsInfo(i) {
			continue
		}
		fh := reader.FsHeader(i)
		fi := hdr.FsInfos[i]
		fmt.Printf("  [%d] offset=0x%x size=0x%x type=%d hash=%d encryption=%d sparse=%v compressed=%v\n",
			i, fi.StartOffset(), fi.EndOffset()-fi.StartOffset(), fh.Type, fh.Hash, fh.Encryption,
			fh.ExistsSparseLayer(), fh.ExistsCompressionLayer())
	}
}

func extractSection(reader *nca.Reader, fsIndex int, outPath string, verify, raw bool) error {
	file, _, err := reader.OpenStorage(fsIndex, nca.OpenOptions{Verify: verify, Raw: raw})
	if err != nil {
		return fmt.Errorf("opening section %d: %w", fsIndex, err)
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	const chunk = 1 << 20
	buf := make([]byte, chunk)
	size := file.Size()
	for off := int64(0); off < size; {
		n := int64(chunk)
		if off+n > size {
			n = size - off
		}
		read, err := file.Read(buf[:n], off)
		if err != nil {
			return fmt.Errorf("reading section at 0x%x: %w", off, err)
		}
		if read == 0 {
			break
		}
		if _, err := out.Write(buf[:read]); err != nil {
			return err
		}
		off += int64(read)
	}
	return nil
}
