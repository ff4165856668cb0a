package voxel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Metadata is the hand-authored half of a map asset (metadata.json).
type Metadata struct {
	Name    string        `json:"name" jsonschema:"required"`
	Spawns  []SpawnPoint  `json:"spawns" jsonschema:"required,minItems=1"`
	Pickups []PickupPoint `json:"pickups,omitempty"`
}

type SpawnPoint struct {
	X    float64 `json:"x" jsonschema:"required"`
	Y    float64 `json:"y" jsonschema:"required"`
	Z    float64 `json:"z" jsonschema:"required"`
	Yaw  uint16  `json:"yaw,omitempty"`
	Team string  `json:"team,omitempty" jsonschema:"enum=red,enum=blue,enum=green"`
}

type PickupPoint struct {
	Kind   string  `json:"kind" jsonschema:"required,enum=health,enum=ammo,enum=weapon"`
	Weapon int     `json:"weapon,omitempty" jsonschema:"minimum=0"`
	X      float64 `json:"x" jsonschema:"required"`
	Y      float64 `json:"y" jsonschema:"required"`
	Z      float64 `json:"z" jsonschema:"required"`
}

const metadataSchemaURL = "metadata.schema.json"

var (
	metaSchemaOnce sync.Once
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
)

// MetadataSchema returns the JSON schema reflected from Metadata.
func MetadataSchema() ([]byte, error) {
	r := invopop.Reflector{RequiredFromJSONSchemaTags: true}
	return json.MarshalIndent(r.Reflect(&Metadata{}), "", "  ")
}

func compiledMetadataSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		raw, err := MetadataSchema()
		if err != nil {
			metaSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metadataSchemaURL, bytes.NewReader(raw)); err != nil {
			metaSchemaErr = err
			return
		}
		metaSchema, metaSchemaErr = c.Compile(metadataSchemaURL)
	})
	return metaSchema, metaSchemaErr
}

// ParseMetadata validates raw metadata.json bytes against the schema before
// decoding them.
func ParseMetadata(raw []byte) (Metadata, error) {
	var md Metadata
	s, err := compiledMetadataSchema()
	if err != nil {
		return md, fmt.Errorf("metadata schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return md, fmt.Errorf("metadata.json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return md, fmt.Errorf("metadata.json: %w", err)
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return md, fmt.Errorf("metadata.json: %w", err)
	}
	return md, nil
}

func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	return ParseMetadata(raw)
}

// ValidateMeta checks that spawn and pickup points sit inside the arena.
func (m *Map) ValidateMeta() error {
	if len(m.Meta.Spawns) == 0 {
		return fmt.Errorf("map %s: no spawn points", m.Name)
	}
	for i, s := range m.Meta.Spawns {
		if !m.insideXZ(s.X, s.Z) {
			return fmt.Errorf("map %s: spawn %d outside arena", m.Name, i)
		}
	}
	for i, p := range m.Meta.Pickups {
		if !m.insideXZ(p.X, p.Z) {
			return fmt.Errorf("map %s: pickup %d outside arena", m.Name, i)
		}
	}
	return nil
}

func (m *Map) insideXZ(x, z float64) bool {
	return x > 0 && z > 0 && x < float64(m.SX) && z < float64(m.SZ)
}
