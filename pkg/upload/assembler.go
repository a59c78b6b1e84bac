package upload

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pictorhq/pictor/internal/logger"
)

// assembleBufSize bounds how much of a chunk is held in memory while
// copying. The assembled file is never buffered beyond this.
const assembleBufSize = 64 * 1024

// Assembler reassembles a session's chunk files into a single verified file.
type Assembler struct {
	store *SessionStore
}

// NewAssembler creates an assembler bound to the session store so it can
// release a session when assembly fails.
func NewAssembler(store *SessionStore) *Assembler {
	return &Assembler{store: store}
}

// Assemble concatenates chunk-0..chunk-N-1 from the session's staging
// directory into <tempdir>/<uploadId>-<fileName>, verifies declared size and
// (for .zip names) the archive signature, and computes CRC32+MD5 in one
// streaming pass.
//
// On any failure the partial output is removed and the session is cleaned
// up; the progress record is left for the caller to mark failed.
func (a *Assembler) Assemble(session Session) (path string, sums Checksums, err error) {
	defer func() {
		if err != nil {
			if path != "" {
				_ = os.Remove(path)
				path = ""
			}
			a.store.Cleanup(session.UploadID)
		}
	}()

	indexes, err := a.chunkIndexes(session.TempDir)
	if err != nil {
		return "", Checksums{}, err
	}

	outPath := filepath.Join(os.TempDir(), session.UploadID+"-"+session.FileName)
	written, err := a.concatChunks(session.TempDir, indexes, outPath)
	if err != nil {
		return outPath, Checksums{}, err
	}
	path = outPath

	if written != session.TotalSize {
		return path, Checksums{}, NewError(KindSizeMismatch, fmt.Sprintf(
			"assembled size %d does not match declared size %d", written, session.TotalSize))
	}

	if strings.HasSuffix(strings.ToLower(session.FileName), ".zip") {
		if err := validateZipSignature(outPath); err != nil {
			return path, Checksums{}, err
		}
	}

	sums, err = computeChecksums(outPath)
	if err != nil {
		return path, Checksums{}, err
	}

	logger.Debug("upload assembled",
		logger.UploadID(session.UploadID),
		logger.Size(written),
		"crc32", sums.CRC32Base64,
	)
	return path, sums, nil
}

// chunkIndexes lists chunk files in the staging directory, parses their
// indexes, and enforces contiguity from zero.
func (a *Assembler) chunkIndexes(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, WrapError(KindNotFound, "staging directory unreadable", err)
	}

	var indexes []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "chunk-") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "chunk-"))
		if err != nil {
			continue // tmp files and strays are skipped
		}
		indexes = append(indexes, idx)
	}

	if len(indexes) == 0 {
		return nil, NewError(KindOutOfOrder, "no chunks received")
	}

	sort.Ints(indexes)
	for i, idx := range indexes {
		if idx != i {
			return nil, NewError(KindOutOfOrder, fmt.Sprintf(
				"missing chunk %d (found chunk %d)", i, idx))
		}
	}
	return indexes, nil
}

// concatChunks streams chunks in index order into outPath. Each chunk is
// copied through a bounded buffer and flushed before the next begins, so at
// most one buffer's worth of data is in memory and every chunk's bytes are
// handed to the OS before its successor is read.
func (a *Assembler) concatChunks(dir string, indexes []int, outPath string) (int64, error) {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, WrapError(KindInternal, "failed to open assembly target", err)
	}

	w := bufio.NewWriterSize(out, assembleBufSize)
	var written int64

	for _, idx := range indexes {
		chunkPath := filepath.Join(dir, fmt.Sprintf("chunk-%d", idx))
		n, err := appendFile(w, chunkPath)
		if err != nil {
			_ = out.Close()
			return written, WrapError(KindInternal, fmt.Sprintf("failed to append chunk %d", idx), err)
		}
		written += n

		// Drain the buffer so the next chunk is only read after the
		// previous one is handed off.
		if err := w.Flush(); err != nil {
			_ = out.Close()
			return written, WrapError(KindInternal, "failed to flush assembled data", err)
		}
	}

	if err := out.Close(); err != nil {
		return written, WrapError(KindInternal, "failed to close assembled file", err)
	}

	// Verify against the filesystem, not our own accounting.
	st, err := os.Stat(outPath)
	if err != nil {
		return written, WrapError(KindInternal, "failed to stat assembled file", err)
	}
	return st.Size(), nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, assembleBufSize)
	return io.CopyBuffer(w, f, buf)
}

// validateZipSignature checks the four-byte local file header of a zip
// archive: "PK" then {03,05,07} {04,06,08} covering regular, empty, and
// spanned archives.
func validateZipSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapError(KindInternal, "failed to open assembled file", err)
	}
	defer f.Close()

	var sig [4]byte
	if _, err := io.ReadFull(f, sig[:]); err != nil {
		return NewError(KindInvalidArchive, "file too short for zip signature")
	}

	if sig[0] != 'P' || sig[1] != 'K' {
		return NewError(KindInvalidArchive, "missing PK signature")
	}
	third := sig[2] == 0x03 || sig[2] == 0x05 || sig[2] == 0x07
	fourth := sig[3] == 0x04 || sig[3] == 0x06 || sig[3] == 0x08
	if !third || !fourth {
		return NewError(KindInvalidArchive, fmt.Sprintf(
			"unrecognized zip signature %02x %02x", sig[2], sig[3]))
	}
	return nil
}

// computeChecksums streams the file once through CRC32 (IEEE, reflected,
// init/final 0xFFFFFFFF) and MD5. Both digests are base64; the CRC32 digest
// is the 4-byte big-endian sum, matching the S3 ChecksumCRC32 wire format.
func computeChecksums(path string) (Checksums, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checksums{}, WrapError(KindInternal, "failed to open assembled file", err)
	}
	defer f.Close()

	crc := crc32.NewIEEE()
	md5sum := md5.New()
	n, err := io.Copy(io.MultiWriter(crc, md5sum), f)
	if err != nil {
		return Checksums{}, WrapError(KindInternal, "failed to hash assembled file", err)
	}

	return Checksums{
		ByteLength:  n,
		CRC32Base64: EncodeCRC32(crc),
		MD5Base64:   base64.StdEncoding.EncodeToString(md5sum.Sum(nil)),
	}, nil
}

// EncodeCRC32 renders a CRC32 hash as the base64 of its big-endian digest.
func EncodeCRC32(h hash.Hash32) string {
	var digest [4]byte
	binary.BigEndian.PutUint32(digest[:], h.Sum32())
	return base64.StdEncoding.EncodeToString(digest[:])
}
