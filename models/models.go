// Package models embeds the robot descriptions shipped with the controller.
package models

import (
	"embed"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"humanoid_brain/kinematics"
)

//go:embed so101.json humanoid_upper.yaml kr6.yaml
var files embed.FS

var embedded = map[string]string{
	"so101":          "so101.json",
	"humanoid_upper": "humanoid_upper.yaml",
	"kr6":            "kr6.yaml",
}

// Names lists the embedded models.
func Names() []string {
	names := make([]string, 0, len(embedded))
	for n := range embedded {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definition returns the embedded definition called name.
func Definition(name string) (kinematics.Definition, error) {
	file, ok := embedded[name]
	if !ok {
		return kinematics.Definition{}, errors.Errorf("no embedded model %q (have %s)", name, strings.Join(Names(), ", "))
	}
	data, err := files.ReadFile(file)
	if err != nil {
		return kinematics.Definition{}, errors.Wrapf(err, "reading embedded model %s", file)
	}
	return kinematics.ParseDefinition(data, strings.TrimPrefix(path.Ext(file), "."))
}

// Load builds the model called name. Names that are not embedded are read
// from disk.
func Load(name string) (*kinematics.Model, error) {
	if _, ok := embedded[name]; !ok {
		if _, err := os.Stat(name); err == nil {
			return kinematics.LoadFile(name)
		}
	}
	def, err := Definition(name)
	if err != nil {
		return nil, err
	}
	return kinematics.NewModel(def)
}
