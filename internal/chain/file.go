package chain

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/halcyon-labs/halcyon-chain/pkg/block"
)

// Block files are zip-compressed JSON, one block per file. The name encodes
// the zero-padded number (for natural range sorting) and the hash (for
// fragment lookup): 000000000042-<hash>.json.zip
const (
	blockFileExt    = ".json.zip"
	blockFileDigits = 12
	zipEntryName    = "block.json"
)

// blockFileName builds the file name for a block.
func blockFileName(b *block.Block) string {
	return fmt.Sprintf("%0*d-%s%s", blockFileDigits, b.Number, b.Hash.String(), blockFileExt)
}

// parseBlockFileName extracts the number and hash hex from a file name.
func parseBlockFileName(name string) (number int64, hashHex string, err error) {
	base := strings.TrimSuffix(name, blockFileExt)
	if base == name {
		return 0, "", fmt.Errorf("not a block file: %s", name)
	}
	sep := strings.IndexByte(base, '-')
	if sep < 0 {
		return 0, "", fmt.Errorf("malformed block file name: %s", name)
	}
	number, err = strconv.ParseInt(base[:sep], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed block number in %s: %w", name, err)
	}
	return number, base[sep+1:], nil
}

// writeBlockFile persists a block as zip-compressed JSON.
func writeBlockFile(dir string, b *block.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Number, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create(zipEntryName)
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}

	path := filepath.Join(dir, blockFileName(b))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write block file %s: %w", path, err)
	}
	return nil
}

// readBlockFile loads a block from a zip-compressed JSON file.
func readBlockFile(path string) (*block.Block, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open block file %s: %w", path, err)
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		return nil, fmt.Errorf("block file %s has %d entries, want 1", path, len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry in %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read block file %s: %w", path, err)
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block file %s: %w", path, err)
	}
	return &b, nil
}

// listBlockFiles returns all block file names in the directory, naturally
// sorted by number (the zero-padded prefix makes lexicographic order work).
func listBlockFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read chain dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blockFileExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
