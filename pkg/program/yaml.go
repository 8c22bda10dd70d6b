package program

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk declarative program schema:
//
//	reagents:
//	  1: Water
//	  2: Buffer
//	columns:
//	  1: ColA
//	program:
//	  - flush: {reagent: Water, column: ColA, flow_rate: 1.5, volume: 10ml}
//	  - sleep: {duration: 30s}
type File struct {
	Reagents map[int]string `yaml:"reagents"`
	Columns  map[int]string `yaml:"columns"`
	Program  []StepSpec     `yaml:"program"`
}

// Parse decodes a declarative program document and lowers it into a
// device-ready Program.
func Parse(data []byte) (*Program, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("program: parse: %w", err)
	}

	reagents := make(map[int]string, len(file.Reagents))
	for slot, name := range file.Reagents {
		reagents[slot] = truncateUTF8(name, NameWidth)
	}
	columns := make(map[int]string, len(file.Columns))
	for slot, name := range file.Columns {
		columns[slot] = truncateUTF8(name, NameWidth)
	}

	steps, err := Lower(file.Program, reagents, columns)
	if err != nil {
		return nil, err
	}
	return &Program{Reagents: reagents, Columns: columns, Steps: steps}, nil
}

// LoadFile reads and parses a declarative program file.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("program: read %s: %w", path, err)
	}
	return Parse(data)
}
