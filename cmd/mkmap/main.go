package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"voxarena.gg/internal/sim/voxel"
)

func main() {
	var (
		out    = flag.String("out", "./maps", "map asset directory")
		name   = flag.String("name", "arena", "map name")
		size   = flag.Int("size", 48, "arena edge length")
		schema = flag.Bool("schema", false, "also write metadata.schema.json into -out")
		list   = flag.Bool("list", false, "list maps under -out and exit")
	)
	flag.Parse()

	if *list {
		names, err := voxel.List(*out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	if err := writeArena(*out, *name, *size, *schema); err != nil {
		fmt.Fprintln(os.Stderr, "mkmap:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", filepath.Join(*out, *name))
}

// writeArena saves a generated arena and reloads it, so a broken asset never
// reaches a server start.
func writeArena(dir, name string, size int, withSchema bool) error {
	m := voxel.Arena(name, size)
	if err := m.ValidateMeta(); err != nil {
		return err
	}
	if err := voxel.Save(dir, m); err != nil {
		return err
	}
	if _, err := voxel.Load(dir, name); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if !withSchema {
		return nil
	}
	b, err := voxel.MetadataSchema()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.schema.json"), append(b, '\n'), 0o644)
}
