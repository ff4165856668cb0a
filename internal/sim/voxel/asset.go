package voxel

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxarena.gg/internal/sim/encoding"
)

// A map asset is a directory <name>/ holding voxels.zst and metadata.json.
// voxels.zst is zstd(JSON header line + gob body).
const (
	VoxelsFile   = "voxels.zst"
	MetadataFile = "metadata.json"
	assetVersion = 1
)

type Header struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Size    [3]int `json:"size"`
}

type voxelsV1 struct {
	Header Header
	Cells  []byte // RLE of the dense grid
}

// Save writes the asset directory dir/<name>.
func Save(dir string, m *Map) error {
	root := filepath.Join(dir, m.Name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	raw := make([]uint8, len(m.cells))
	for i, c := range m.cells {
		raw[i] = uint8(c)
	}
	body := voxelsV1{
		Header: Header{Version: assetVersion, Name: m.Name, Size: [3]int{m.SX, m.SY, m.SZ}},
		Cells:  encoding.EncodeRLE(raw),
	}
	if err := writeVoxels(filepath.Join(root, VoxelsFile), body); err != nil {
		return err
	}
	md, err := json.MarshalIndent(m.Meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, MetadataFile), append(md, '\n'), 0o644)
}

func writeVoxels(path string, body voxelsV1) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(body.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&body); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// Load reads the asset directory dir/<name>. Any failure here is fatal for
// a server start.
func Load(dir, name string) (*Map, error) {
	root := filepath.Join(dir, name)
	body, err := readVoxels(filepath.Join(root, VoxelsFile))
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	h := body.Header
	if h.Version != assetVersion {
		return nil, fmt.Errorf("map %s: unsupported version %d", name, h.Version)
	}
	m, err := New(name, h.Size[0], h.Size[1], h.Size[2])
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	raw, err := encoding.DecodeRLE(body.Cells, len(m.cells))
	if err != nil {
		return nil, fmt.Errorf("map %s: cells: %w", name, err)
	}
	for i, c := range raw {
		if Type(c) > Lava {
			return nil, fmt.Errorf("map %s: unknown voxel type %d", name, c)
		}
		m.cells[i] = Type(c)
	}
	md, err := ReadMetadata(filepath.Join(root, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	m.Meta = md
	if err := m.ValidateMeta(); err != nil {
		return nil, err
	}
	return m, nil
}

func readVoxels(path string) (voxelsV1, error) {
	var body voxelsV1
	f, err := os.Open(path)
	if err != nil {
		return body, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return body, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The header line is for humans poking at the file; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return body, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&body); err != nil {
		return body, fmt.Errorf("gob decode: %w", err)
	}
	return body, nil
}

// List returns the asset names under dir.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), VoxelsFile)); err == nil {
			out = append(out, e.Name())
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return out, nil
}
