// Command cli is an offline tool for models and servos: forward and inverse
// kinematics, trajectory planning, serial port discovery and calibration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/logging"

	"humanoid_brain/ik"
	"humanoid_brain/kinematics"
	"humanoid_brain/models"
	"humanoid_brain/spatial"
	"humanoid_brain/trajectory"
	"humanoid_brain/transport/feetech"
)

const usage = `usage: cli <command> [flags]

commands:
  fk         pose of the end effectors for joint positions
  ik         joint positions placing a frame at a pose
  plan       waypoints of a joint-space move
  ports      serial ports that look like servo adapters
  calibrate  record servo ranges by hand and write a calibration file
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	logger := logging.NewLogger("cli")
	if err := run(os.Args[1], os.Args[2:], logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, logger logging.Logger) error {
	switch cmd {
	case "fk":
		return runFK(args)
	case "ik":
		return runIK(args)
	case "plan":
		return runPlan(args)
	case "ports":
		return runPorts(args, logger)
	case "calibrate":
		return runCalibrate(args, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return errors.Errorf("unknown command %q", cmd)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type poseOut struct {
	Frame string         `json:"frame"`
	Pose  *commonpb.Pose `json:"pose_mm_deg"`
	Point [3]float64     `json:"point_m"`
	Quat  [4]float64     `json:"quaternion_wxyz"`
}

func describe(frame string, p spatial.Pose) poseOut {
	o := p.Orientation
	return poseOut{
		Frame: frame,
		Pose:  spatial.ToProtobuf(p),
		Point: [3]float64{p.Point.X, p.Point.Y, p.Point.Z},
		Quat:  [4]float64{o.Real, o.Imag, o.Jmag, o.Kmag},
	}
}

// positions returns the model's rest positions overridden by targets.
func positions(m *kinematics.Model, targets string) ([]float64, error) {
	q := make([]float64, m.NumJoints())
	for i := range q {
		q[i] = m.Limits(i).Clamp(0)
	}
	if targets == "" {
		return q, nil
	}
	set, err := m.ParseTargets(targets)
	if err != nil {
		return nil, err
	}
	for id, v := range set {
		i, _ := m.JointIndex(id)
		q[i] = v
	}
	return q, nil
}

func runFK(args []string) error {
	fs := flag.NewFlagSet("fk", flag.ExitOnError)
	model := fs.String("model", "so101", "embedded model name or model file")
	joints := fs.String("joints", "", "joint positions, e.g. shoulder_pan=0.3,elbow_flex=-0.5")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := models.Load(*model)
	if err != nil {
		return err
	}
	q, err := positions(m, *joints)
	if err != nil {
		return err
	}
	fk := kinematics.NewForwardSolver(m)
	poses, err := fk.Poses(m.StateFromPositions(q, time.Now()))
	if err != nil {
		return err
	}
	out := make([]poseOut, 0, len(poses))
	for _, frame := range m.EndEffectors() {
		out = append(out, describe(frame, poses[frame]))
	}
	return printJSON(out)
}

func runIK(args []string) error {
	fs := flag.NewFlagSet("ik", flag.ExitOnError)
	model := fs.String("model", "so101", "embedded model name or model file")
	frame := fs.String("frame", "", "frame to place; defaults to the first end effector")
	seed := fs.String("seed", "", "seed joint positions; unnamed joints start at rest")
	positionOnly := fs.Bool("position-only", false, "ignore orientation")
	opw := fs.String("opw", "", "a1,a2,b,c1,c2,c3,c4 in meters; solve the arm in closed form first")
	target := &commonpb.Pose{}
	fs.Float64Var(&target.X, "x", 0, "target x in mm")
	fs.Float64Var(&target.Y, "y", 0, "target y in mm")
	fs.Float64Var(&target.Z, "z", 0, "target z in mm")
	fs.Float64Var(&target.OX, "ox", 0, "orientation vector x")
	fs.Float64Var(&target.OY, "oy", 0, "orientation vector y")
	fs.Float64Var(&target.OZ, "oz", 1, "orientation vector z")
	fs.Float64Var(&target.Theta, "theta", 0, "rotation about the orientation vector in degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := models.Load(*model)
	if err != nil {
		return err
	}
	if *frame == "" {
		*frame = m.EndEffectors()[0]
	}
	fi, ok := m.Frame(*frame)
	if !ok {
		return errors.Wrapf(kinematics.ErrUnknownFrame, "%q", *frame)
	}
	q, err := positions(m, *seed)
	if err != nil {
		return err
	}

	cfg := ik.DefaultConfig()
	cfg.PositionOnly = *positionOnly
	if *opw != "" {
		if cfg.OPW, err = parseOPW(*opw); err != nil {
			return err
		}
		cfg.OPW.Frame = *frame
	}
	fk := kinematics.NewForwardSolver(m)
	solver, err := ik.NewSolver(fk, cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	goal := spatial.FromProtobuf(target)
	branches := len(solver.Branches(goal, fi, q))
	sol, err := solver.SolvePositions(ctx, goal, fi, q)
	if err != nil {
		return err
	}

	joints := make(map[string]float64, len(sol.Positions))
	for i, id := range m.JointIDs() {
		joints[id] = sol.Positions[i]
	}
	return printJSON(map[string]any{
		"joints":     joints,
		"iterations": sol.Iterations,
		"residual":   sol.Residual,
		"branches":   branches,
		"reached":    describe(*frame, fk.PoseAt(sol.Positions, fi)),
	})
}

func parseOPW(s string) (*ik.OPWParameters, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 7 {
		return nil, errors.Errorf("opw needs seven comma separated values, got %d", len(fields))
	}
	var v [7]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "opw value %d", i+1)
		}
		v[i] = x
	}
	return &ik.OPWParameters{A1: v[0], A2: v[1], B: v[2], C1: v[3], C2: v[4], C3: v[5], C4: v[6]}, nil
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	model := fs.String("model", "so101", "embedded model name or model file")
	from := fs.String("from", "", "start joint positions; unnamed joints start at rest")
	to := fs.String("to", "", "goal joint positions; unnamed joints hold")
	step := fs.Duration("step", 100*time.Millisecond, "waypoint spacing")
	speed := fs.Float64("speed", 1, "fraction of the velocity limits")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := models.Load(*model)
	if err != nil {
		return err
	}
	start, err := positions(m, *from)
	if err != nil {
		return err
	}
	goal := append([]float64{}, start...)
	targets, err := m.ParseTargets(*to)
	if err != nil {
		return err
	}
	for id, v := range targets {
		i, _ := m.JointIndex(id)
		goal[i] = v
	}

	opts := trajectory.DefaultOptions()
	opts.VelocityScale = *speed
	if err := opts.Validate(); err != nil {
		return err
	}
	traj, err := trajectory.NewPlanner(m, opts).Plan(start, goal)
	if err != nil {
		return err
	}

	type point struct {
		At        string    `json:"t"`
		Positions []float64 `json:"positions"`
	}
	var out []point
	for _, wp := range traj.Waypoints(*step) {
		p := point{At: wp.At.String(), Positions: make([]float64, len(wp.Values))}
		for i, v := range wp.Values {
			p.Positions[i] = v.Position
		}
		out = append(out, p)
	}
	return printJSON(map[string]any{
		"joints":    traj.JointIDs(),
		"duration":  traj.Duration().String(),
		"waypoints": out,
	})
}

func runPorts(args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("ports", flag.ExitOnError)
	ping := fs.Bool("ping", false, "ping servos on every candidate port")
	baud := fs.Int("baud", 1000000, "baudrate used when pinging")
	calibrationDir := fs.String("calibration-dir", "", "directory searched for <port>_calibration.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*ping {
		return printJSON(feetech.CandidatePorts(logger))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	found, err := feetech.Discover(ctx, *baud, []int{1, 2, 3, 4, 5, 6}, *calibrationDir, logger)
	if err != nil {
		return err
	}
	return printJSON(found)
}

func runCalibrate(args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	model := fs.String("model", "so101", "embedded model name or model file")
	port := fs.String("port", "", "serial port of the servo bus")
	baud := fs.Int("baud", 1000000, "bus baudrate")
	duration := fs.Duration("duration", 30*time.Second, "how long to record ranges")
	out := fs.String("out", "calibration.json", "calibration file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == "" {
		return errors.New("must specify -port")
	}
	m, err := models.Load(*model)
	if err != nil {
		return err
	}
	cfg := feetech.Config{Port: *port, Baudrate: *baud}
	if err := cfg.Validate("calibrate", m); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	registry := feetech.NewBusRegistry(cfg.Timeout, logger)
	cals, err := feetech.RecordCalibration(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	if err := feetech.SaveCalibrationFile(*out, cals); err != nil {
		return err
	}
	logger.Infof("wrote calibration for %d joints to %s", len(cals), *out)
	return nil
}
