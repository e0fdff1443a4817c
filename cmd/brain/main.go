// Command brain runs the joint control loop against simulated or Feetech
// joints until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"humanoid_brain/brain"
	"humanoid_brain/config"
	"humanoid_brain/kinematics"
	"humanoid_brain/transport"
	"humanoid_brain/transport/feetech"
	"humanoid_brain/transport/sim"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config; defaults drive the simulated SO-101")
	model := flag.String("model", "", "override the configured model name or file")
	goal := flag.String("goal", "", "joint goal to submit at startup, e.g. shoulder_pan=0.5,elbow_flex=-0.3")
	flag.Parse()

	logger := logging.NewLogger("brain")
	if err := realMain(*configPath, *model, *goal, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err)
		os.Exit(1)
	}
}

func realMain(configPath, model, goal string, logger logging.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if model != "" {
		cfg.Model = model
	}
	if err := cfg.Validate(configPath); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	m, err := cfg.LoadModel()
	if err != nil {
		return errors.Wrap(err, "refusing to start")
	}
	logger.Infof("model %s: %d joints, end effectors %v", m.Name(), m.NumJoints(), m.EndEffectors())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	io, err := openTransport(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := io.Close(context.Background()); err != nil {
			logger.Warnf("closing transport: %v", err)
		}
	}()

	b, err := brain.New(m, io, cfg.Config, logger.Sublogger("loop"))
	if err != nil {
		return err
	}
	defer b.Close()

	events, cancel := b.Subscribe(32)
	defer cancel()
	go func() {
		for t := range events {
			if t.To == brain.EmergencyStop {
				logger.Warnw("emergency stop; restart or reset required", "goal", t.GoalID, "kind", brain.FaultKind(t.Reason))
			}
		}
	}()

	if goal != "" {
		targets, err := m.ParseTargets(goal)
		if err != nil {
			return err
		}
		id, err := b.Submit(brain.Goal{Joints: targets})
		if err != nil {
			return err
		}
		logger.Infof("submitted goal %s", id)
	}

	return b.Run(ctx)
}

func openTransport(ctx context.Context, cfg config.Config, m *kinematics.Model, logger logging.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportFeetech:
		registry := feetech.NewBusRegistry(cfg.Transport.Feetech.Timeout, logger.Sublogger("bus"))
		adapter, err := feetech.Open(ctx, m, cfg.Transport.Feetech, registry, logger.Sublogger("feetech"))
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return sim.New(m, cfg.Transport.Sim, logger.Sublogger("sim")), nil
	}
}
