package kinematics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"humanoid_brain/spatial"
)

// Model is an immutable kinematic tree. Joints are stored in an arena in
// topological order; every joint carries exactly one link, and frames are
// addressed by link identifier.
type Model struct {
	name         string
	base         spatial.Pose
	joints       []Joint
	links        []Link
	parents      []int
	chains       [][]int
	jointIndex   map[string]int
	linkIndex    map[string]int
	endEffectors []string
}

// NewModel validates def and builds the model. Every problem found is
// reported; the returned error matches ErrConstruction.
func NewModel(def Definition) (*Model, error) {
	var errs error
	if len(def.Joints) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("model has no joints"))
	}

	declared := map[string]int{}
	joints := make([]Joint, len(def.Joints))
	for i, jc := range def.Joints {
		if jc.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("joint %d has no id", i))
		} else if _, dup := declared[jc.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate joint %q", jc.ID))
		} else {
			declared[jc.ID] = i
		}
		j, err := buildJoint(jc)
		errs = multierr.Append(errs, err)
		joints[i] = j
	}

	g := simple.NewDirectedGraph()
	for i := range joints {
		g.AddNode(simple.Node(i))
	}
	for i, j := range joints {
		if j.Parent == "" {
			continue
		}
		p, ok := declared[j.Parent]
		switch {
		case !ok:
			errs = multierr.Append(errs, fmt.Errorf("joint %q references missing parent %q", j.ID, j.Parent))
		case p == i:
			errs = multierr.Append(errs, fmt.Errorf("joint %q is its own parent", j.ID))
		default:
			g.SetEdge(g.NewEdge(simple.Node(p), simple.Node(i)))
		}
	}
	order, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(a, b int) bool { return nodes[a].ID() < nodes[b].ID() })
	})
	if err != nil {
		errs = multierr.Append(errs, cycleError(err, joints))
	}

	links := make([]Link, len(joints))
	haveLink := make([]bool, len(joints))
	for _, lc := range def.Links {
		ji, ok := declared[lc.Joint]
		switch {
		case lc.ID == "":
			errs = multierr.Append(errs, fmt.Errorf("link on joint %q has no id", lc.Joint))
			continue
		case !ok:
			errs = multierr.Append(errs, fmt.Errorf("link %q references missing joint %q", lc.ID, lc.Joint))
			continue
		case haveLink[ji]:
			errs = multierr.Append(errs, fmt.Errorf("joint %q carries more than one link", lc.Joint))
			continue
		case lc.Mass < 0:
			errs = multierr.Append(errs, fmt.Errorf("link %q has negative mass", lc.ID))
		}
		haveLink[ji] = true
		links[ji] = Link{
			ID:           lc.ID,
			Joint:        lc.Joint,
			Transform:    lc.Pose(),
			Mass:         lc.Mass,
			CenterOfMass: spatial.Vector(lc.CenterOfMass),
		}
	}
	for i, j := range joints {
		if !haveLink[i] {
			links[i] = Link{ID: j.ID, Joint: j.ID, Transform: spatial.Identity()}
		}
	}
	linkSeen := map[string]bool{}
	for _, l := range links {
		if l.ID == "" {
			continue
		}
		if linkSeen[l.ID] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate link %q", l.ID))
		}
		linkSeen[l.ID] = true
	}
	for _, ee := range def.EndEffectors {
		if !linkSeen[ee] {
			errs = multierr.Append(errs, fmt.Errorf("end effector %q is not a link", ee))
		}
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrConstruction, errs)
	}

	m := &Model{
		name:       def.Name,
		base:       spatial.Identity(),
		joints:     make([]Joint, len(order)),
		links:      make([]Link, len(order)),
		parents:    make([]int, len(order)),
		chains:     make([][]int, len(order)),
		jointIndex: make(map[string]int, len(order)),
		linkIndex:  make(map[string]int, len(order)),
	}
	if def.Base != nil {
		m.base = def.Base.Pose()
	}
	for i, n := range order {
		src := int(n.ID())
		m.joints[i] = joints[src]
		m.links[i] = links[src]
		m.jointIndex[joints[src].ID] = i
		m.linkIndex[links[src].ID] = i
	}
	hasChild := make([]bool, len(order))
	for i, j := range m.joints {
		m.parents[i] = -1
		if j.Parent != "" {
			p := m.jointIndex[j.Parent]
			m.parents[i] = p
			hasChild[p] = true
			m.chains[i] = append(append([]int{}, m.chains[p]...), i)
		} else {
			m.chains[i] = []int{i}
		}
	}
	m.endEffectors = append([]string{}, def.EndEffectors...)
	if len(m.endEffectors) == 0 {
		for i, l := range m.links {
			if !hasChild[i] {
				m.endEffectors = append(m.endEffectors, l.ID)
			}
		}
	}
	return m, nil
}

func buildJoint(jc JointConfig) (Joint, error) {
	var errs error
	typ, err := ParseJointType(jc.Type)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("joint %q: %w", jc.ID, err))
	}
	axis := axisVector(jc.Axis)
	if axis.Norm() == 0 {
		errs = multierr.Append(errs, fmt.Errorf("joint %q has a zero axis", jc.ID))
	}
	for _, v := range []float64{jc.Min, jc.Max, jc.MaxVelocity, jc.MaxAcceleration, jc.MaxTorque} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = multierr.Append(errs, fmt.Errorf("joint %q has a non-finite limit", jc.ID))
			break
		}
	}
	if jc.Min > jc.Max {
		errs = multierr.Append(errs, fmt.Errorf("joint %q: min %.4f exceeds max %.4f", jc.ID, jc.Min, jc.Max))
	}
	if jc.MaxVelocity <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("joint %q: velocity limit must be positive", jc.ID))
	}
	if jc.MaxAcceleration <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("joint %q: acceleration limit must be positive", jc.ID))
	}
	if jc.MaxTorque <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("joint %q: torque limit must be positive", jc.ID))
	}
	return Joint{
		ID:     jc.ID,
		Type:   typ,
		Parent: jc.Parent,
		Axis:   axis,
		Limits: Limits{
			Min:          jc.Min,
			Max:          jc.Max,
			Velocity:     jc.MaxVelocity,
			Acceleration: jc.MaxAcceleration,
			Torque:       jc.MaxTorque,
		},
	}, errs
}

func cycleError(err error, joints []Joint) error {
	u, ok := err.(topo.Unorderable)
	if !ok {
		return err
	}
	var cycles []string
	for _, component := range u {
		ids := make([]string, 0, len(component))
		for _, n := range component {
			ids = append(ids, joints[n.ID()].ID)
		}
		sort.Strings(ids)
		cycles = append(cycles, strings.Join(ids, " -> "))
	}
	return fmt.Errorf("joints form a cycle: %s", strings.Join(cycles, "; "))
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Base returns the pose of the base frame in the world.
func (m *Model) Base() spatial.Pose { return m.base }

// NumJoints returns the number of joints.
func (m *Model) NumJoints() int { return len(m.joints) }

// Joints returns the joints in traversal order. The slice must not be
// modified.
func (m *Model) Joints() []Joint { return m.joints }

// JointIDs returns joint identifiers in traversal order.
func (m *Model) JointIDs() []string {
	ids := make([]string, len(m.joints))
	for i, j := range m.joints {
		ids[i] = j.ID
	}
	return ids
}

// Joint looks up a joint by identifier.
func (m *Model) Joint(id string) (Joint, bool) {
	i, ok := m.jointIndex[id]
	if !ok {
		return Joint{}, false
	}
	return m.joints[i], true
}

// JointIndex returns the traversal position of a joint.
func (m *Model) JointIndex(id string) (int, bool) {
	i, ok := m.jointIndex[id]
	return i, ok
}

// Link looks up a link by identifier.
func (m *Model) Link(id string) (Link, bool) {
	i, ok := m.linkIndex[id]
	if !ok {
		return Link{}, false
	}
	return m.links[i], true
}

// Limits returns the limits of the joint at traversal index i.
func (m *Model) Limits(i int) Limits { return m.joints[i].Limits }

// LimitsOf returns the limits of a joint by identifier.
func (m *Model) LimitsOf(id string) (Limits, bool) {
	j, ok := m.Joint(id)
	return j.Limits, ok
}

// Parent returns the traversal index of joint i's parent, or -1 for joints
// mounted on the base.
func (m *Model) Parent(i int) int { return m.parents[i] }

// Frame resolves a link identifier to the index of the joint carrying it.
func (m *Model) Frame(id string) (int, bool) {
	i, ok := m.linkIndex[id]
	return i, ok
}

// Chain returns the traversal indices of the joints between the base and the
// given frame, root first. The slice must not be modified.
func (m *Model) Chain(frame int) []int { return m.chains[frame] }

// EndEffectors returns the designated end-effector frames. Without an
// explicit list these are the links of leaf joints.
func (m *Model) EndEffectors() []string { return m.endEffectors }
