package kinematics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"humanoid_brain/spatial"
)

// Definition is the on-disk description of a robot.
type Definition struct {
	Name         string           `json:"name" yaml:"name"`
	Base         *TransformConfig `json:"base,omitempty" yaml:"base,omitempty"`
	Joints       []JointConfig    `json:"joints" yaml:"joints"`
	Links        []LinkConfig     `json:"links,omitempty" yaml:"links,omitempty"`
	EndEffectors []string         `json:"end_effectors,omitempty" yaml:"end_effectors,omitempty"`
}

// TransformConfig is a fixed transform. Rotation is given either as
// roll/pitch/yaw or as a (w, x, y, z) quaternion; neither means identity.
type TransformConfig struct {
	Translation [3]float64  `json:"translation" yaml:"translation"`
	RPY         *[3]float64 `json:"rpy,omitempty" yaml:"rpy,omitempty"`
	Quaternion  *[4]float64 `json:"quaternion,omitempty" yaml:"quaternion,omitempty"`
}

// Pose converts the transform to a Pose.
func (c TransformConfig) Pose() spatial.Pose {
	q := quat.Number{Real: 1}
	switch {
	case c.Quaternion != nil:
		q = quat.Number{Real: c.Quaternion[0], Imag: c.Quaternion[1], Jmag: c.Quaternion[2], Kmag: c.Quaternion[3]}
	case c.RPY != nil:
		q = spatial.FromRPY(c.RPY[0], c.RPY[1], c.RPY[2])
	}
	return spatial.NewPose(spatial.Vector(c.Translation), q)
}

// JointConfig describes one joint. Parent names the joint whose link this
// joint is mounted on; empty means the base frame.
type JointConfig struct {
	ID              string     `json:"id" yaml:"id"`
	Type            string     `json:"type" yaml:"type"`
	Parent          string     `json:"parent,omitempty" yaml:"parent,omitempty"`
	Axis            [3]float64 `json:"axis" yaml:"axis"`
	Min             float64    `json:"min" yaml:"min"`
	Max             float64    `json:"max" yaml:"max"`
	MaxVelocity     float64    `json:"max_velocity" yaml:"max_velocity"`
	MaxAcceleration float64    `json:"max_acceleration" yaml:"max_acceleration"`
	MaxTorque       float64    `json:"max_torque" yaml:"max_torque"`
}

// LinkConfig describes the link carried by a joint. Joints without a link
// entry carry a zero-length link named after the joint.
type LinkConfig struct {
	ID              string `json:"id" yaml:"id"`
	Joint           string `json:"joint" yaml:"joint"`
	TransformConfig `yaml:",inline"`
	Mass            float64    `json:"mass,omitempty" yaml:"mass,omitempty"`
	CenterOfMass    [3]float64 `json:"center_of_mass,omitempty" yaml:"center_of_mass,omitempty"`
}

// ParseDefinition decodes a definition. format is "yaml" or "json".
func ParseDefinition(data []byte, format string) (Definition, error) {
	var def Definition
	var err error
	switch format {
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &def)
	default:
		err = json.Unmarshal(data, &def)
	}
	if err != nil {
		return Definition{}, errors.Wrapf(ErrConstruction, "decoding %s model: %v", format, err)
	}
	return def, nil
}

// LoadFile reads and builds a model from a JSON or YAML file, chosen by
// extension.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file %s", path)
	}
	def, err := ParseDefinition(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	if err != nil {
		return nil, err
	}
	return NewModel(def)
}

func axisVector(a [3]float64) r3.Vector {
	v := spatial.Vector(a)
	if v.Norm() == 0 {
		return v
	}
	return v.Normalize()
}
