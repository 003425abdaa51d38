package battle

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed data/*.yaml
var defaultTypeFiles embed.FS

// DefaultRegistry returns a Registry populated with the built-in creature
// types (fuego, agua, planta). The embedded data is validated at load time;
// a failure indicates a broken build and panics.
func DefaultRegistry() *Registry {
	reg, err := loadRegistryFS(defaultTypeFiles, "data")
	if err != nil {
		panic("battle: embedded type data is invalid: " + err.Error())
	}
	return reg
}

func loadRegistryFS(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading embedded types dir %q: %w", dir, err)
	}

	reg := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded %q: %w", entry.Name(), err)
		}
		def, err := LoadTypeFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading embedded %q: %w", entry.Name(), err)
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("loading embedded %q: %w", entry.Name(), err)
		}
	}
	return reg, nil
}
