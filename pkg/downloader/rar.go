package downloader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// RAR3 block layout. Only stored (uncompressed) entries are supported;
// debrid hosts repack multi-part archives without compression, which is
// the only shape this extractor has to handle.
var rar3Marker = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}

const (
	rarBlockHeader = 0x73
	rarBlockFile   = 0x74
	rarBlockEnd    = 0x7B

	rarFlagDirectory   = 0xE0
	rarFlagHighSize    = 0x100
	rarFlagUnicodeName = 0x200
	rarFlagHasData     = 0x8000

	rarMethodStore = 0x30
)

var (
	errRarMarkerNotFound = errors.New("rar marker not found")
	errRarInvalidFormat  = errors.New("invalid rar format")
	errRarCompressed     = errors.New("compressed rar entries are not supported")
)

type rarEntry struct {
	path       string
	size       int64
	packedSize int64
	method     byte
	isDir      bool
	dataOffset int64
	nextOffset int64
}

func extractRar(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening rar %s: %w", archivePath, err)
	}
	defer f.Close()

	entries, err := readRarEntries(f)
	if err != nil {
		return fmt.Errorf("reading rar %s: %w", archivePath, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractRarEntry(f, entry, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractRarEntry(r io.ReaderAt, entry rarEntry, dest string) error {
	target, err := sanitizePath(dest, filepath.ToSlash(entry.path))
	if err != nil {
		return err
	}
	if entry.isDir {
		return os.MkdirAll(target, os.ModePerm)
	}
	if entry.method != rarMethodStore {
		return fmt.Errorf("%w: %s", errRarCompressed, entry.path)
	}
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, io.NewSectionReader(r, entry.dataOffset, entry.packedSize)); err != nil {
		return fmt.Errorf("extracting %s: %w", entry.path, err)
	}
	return nil
}

// readRarEntries walks the block chain and collects file headers.
func readRarEntries(r io.ReaderAt) ([]rarEntry, error) {
	head := make([]byte, 8192)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	markerPos := bytes.Index(head[:n], rar3Marker)
	if markerPos < 0 {
		return nil, errRarMarkerNotFound
	}
	pos := int64(markerPos + len(rar3Marker))

	header := make([]byte, 7)
	if _, err := r.ReadAt(header, pos); err != nil {
		return nil, errRarInvalidFormat
	}
	if header[2] != rarBlockHeader {
		return nil, errRarInvalidFormat
	}
	pos += int64(binary.LittleEndian.Uint16(header[5:7]))

	var entries []rarEntry
	for {
		if _, err := r.ReadAt(header, pos); err != nil {
			return nil, fmt.Errorf("reading block header at %d: %w", pos, err)
		}
		headType := header[2]
		headFlags := int(binary.LittleEndian.Uint16(header[3:5]))
		headSize := int(binary.LittleEndian.Uint16(header[5:7]))

		if headType == rarBlockEnd {
			return entries, nil
		}

		if headType != rarBlockFile {
			pos += int64(headSize)
			if headFlags&rarFlagHasData != 0 {
				sizeData := make([]byte, 4)
				if _, err := r.ReadAt(sizeData, pos-4); err != nil {
					return nil, err
				}
				pos += int64(binary.LittleEndian.Uint32(sizeData))
			}
			continue
		}

		full := make([]byte, headSize)
		if _, err := r.ReadAt(full, pos); err != nil {
			return nil, fmt.Errorf("reading file header at %d: %w", pos, err)
		}
		entry, err := parseRarFileHeader(full, pos)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		pos = entry.nextOffset
	}
}

func parseRarFileHeader(header []byte, position int64) (rarEntry, error) {
	if len(header) < 32 {
		return rarEntry{}, errRarInvalidFormat
	}
	headFlags := int(binary.LittleEndian.Uint16(header[3:5]))
	headSize := int(binary.LittleEndian.Uint16(header[5:7]))

	packSize := int64(binary.LittleEndian.Uint32(header[7:11]))
	unpackSize := int64(binary.LittleEndian.Uint32(header[11:15]))
	method := header[25]
	nameSize := int(binary.LittleEndian.Uint16(header[26:28]))

	offset := 32
	if headFlags&rarFlagHighSize != 0 {
		if offset+8 <= len(header) {
			packSize += int64(binary.LittleEndian.Uint32(header[offset:offset+4])) << 32
			unpackSize += int64(binary.LittleEndian.Uint32(header[offset+4:offset+8])) << 32
		}
		offset += 8
	}

	if offset+nameSize > len(header) {
		return rarEntry{}, errRarInvalidFormat
	}
	name := decodeRarName(header[offset:offset+nameSize], headFlags&rarFlagUnicodeName != 0)

	isDir := headFlags&rarFlagDirectory == rarFlagDirectory
	dataOffset := position + int64(headSize)
	nextOffset := dataOffset
	if !isDir && headFlags&rarFlagHasData != 0 {
		nextOffset += packSize
	}

	return rarEntry{
		path:       name,
		size:       unpackSize,
		packedSize: packSize,
		method:     method,
		isDir:      isDir,
		dataOffset: dataOffset,
		nextOffset: nextOffset,
	}, nil
}

func decodeRarName(raw []byte, hasUnicode bool) string {
	if !hasUnicode {
		return string(raw)
	}
	zero := bytes.IndexByte(raw, 0)
	if zero < 0 {
		return string(raw)
	}
	ascii := raw[:zero]
	if utf8.Valid(ascii) && zero == len(raw)-1 {
		return string(ascii)
	}
	return decodeRarUnicode(string(ascii), raw[zero+1:])
}

// decodeRarUnicode expands the RAR3 compressed unicode name encoding: a
// stream of 2-bit opcodes selecting between the ascii fallback, a low
// byte, a low byte with the current high byte, or a new high byte.
func decodeRarUnicode(ascii string, data []byte) string {
	var result []rune
	asciiPos, dataPos := 0, 0
	highByte := byte(0)

	for dataPos < len(data) {
		flags := uint(data[dataPos])
		dataPos++
		for i := 0; i < 4; i++ {
			if asciiPos >= len(ascii) && dataPos >= len(data) {
				break
			}
			switch (flags >> (i * 2)) & 0x03 {
			case 0:
				if asciiPos < len(ascii) {
					result = append(result, rune(ascii[asciiPos]))
					asciiPos++
				}
			case 1:
				if dataPos < len(data) {
					result = append(result, rune(data[dataPos]))
					dataPos++
				}
			case 2:
				if dataPos < len(data) {
					result = append(result, rune(uint(data[dataPos])|(uint(highByte)<<8)))
					dataPos++
				}
			case 3:
				if dataPos < len(data) {
					highByte = data[dataPos]
					dataPos++
				}
			}
		}
	}
	for asciiPos < len(ascii) {
		result = append(result, rune(ascii[asciiPos]))
		asciiPos++
	}
	return string(result)
}
