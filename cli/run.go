package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/fisheye/components/camera/fisheye"
	"go.viam.com/fisheye/components/camera/fisheye/fake"
	"go.viam.com/fisheye/config"
	"go.viam.com/fisheye/logging"
	"go.viam.com/fisheye/stream"
	"go.viam.com/fisheye/utils"
)

// RunAction runs the sensor until it is interrupted or has ticked --ticks times, then prints a
// summary of the frames it produced.
func RunAction(c *cli.Context) (err error) {
	logger := logging.NewLogger("fisheye")
	if path := c.String(logFileFlag); path != "" {
		appender, closer := logging.NewFileAppender(path)
		logger.AddAppender(appender)
		defer func() {
			err = multierr.Combine(err, closer.Close())
		}()
	}

	cfg, err := readConfig(c.String(configFlag))
	if err != nil {
		return err
	}
	// --debug turns on per-frame debug logs through the run context; the level from the config
	// file still applies to everything else.
	switch {
	case cfg.LogLevel != nil:
		logger.SetLevel(*cfg.LogLevel)
	case c.Bool(debugFlag):
		logger.SetLevel(logging.DEBUG)
	}
	params, err := cfg.Parameters()
	if err != nil {
		return err
	}
	env, err := cfg.Environment.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.Bool(debugFlag) {
		ctx = logging.EnableDebugMode(ctx, "")
	}

	backend := fake.NewBackend(env, logger.Sublogger("backend"))
	frames := stream.NewStream(stream.StreamConfig{Name: cfg.Name, Logger: logger.Sublogger("stream")})
	opts := []fisheye.Option{fisheye.WithRenderFenceTimeout(time.Duration(cfg.RenderFenceTimeout))}
	if cfg.Name != "" {
		opts = append(opts, fisheye.WithName(cfg.Name))
	}
	pipeline, err := fisheye.NewPipeline(params, backend, frames, logger.Sublogger("pipeline"), opts...)
	if err != nil {
		return multierr.Combine(err, frames.Close(), backend.Close())
	}
	defer func() {
		err = multierr.Combine(err, pipeline.Close(), frames.Close(), backend.Close())
	}()

	workers := utils.NewStoppableWorkersWithContext(ctx, consumeFrames(frames, logger))
	defer workers.Stop()

	if c.Bool(watchFlag) {
		if c.String(configFlag) == "" {
			warningf(c.App.ErrWriter, "--%s has no effect without --%s", watchFlag, configFlag)
		} else {
			watcher, watchErr := config.NewWatcher(ctx, c.String(configFlag), cfg, logger.Sublogger("config"))
			if watchErr != nil {
				return watchErr
			}
			defer func() {
				err = multierr.Combine(err, watcher.Close())
			}()
			workers.AddWorkers(applyConfigUpdates(watcher, pipeline, backend, logger))
		}
	}

	maxTicks := c.Uint64(ticksFlag)
	runner, err := fisheye.NewRunner(ctx, pipeline, time.Duration(cfg.TickPeriod), func(s fisheye.Stats) {
		if maxTicks > 0 && s.Ticks >= maxTicks {
			cancel()
		}
	})
	if err != nil {
		return err
	}
	logger.Infow("fisheye sensor running", "pipeline", pipeline.Name(), "width", params.Width,
		"height", params.Height, "fov", params.MaxAngle, "tick_period", time.Duration(cfg.TickPeriod))
	<-runner.Done()
	runner.Close()

	printf(c.App.Writer, "%s", summary(pipeline.Name(), pipeline.Stats(), frames))
	return nil
}

func readConfig(path string) (*config.SensorConfig, error) {
	if path == "" {
		return config.FromReader(strings.NewReader("{}"))
	}
	return config.Read(path)
}

// consumeFrames stands in for a client of the sensor: it reads and releases every frame.
func consumeFrames(frames stream.Stream, logger logging.Logger) func(context.Context) {
	ch, unsubscribe := frames.Subscribe()
	return func(ctx context.Context) {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case buf, ok := <-ch:
				if !ok {
					return
				}
				header, err := stream.ParseImageHeader(buf.Bytes())
				buf.Release()
				if err != nil {
					logger.Errorw("bad frame header", "error", err)
					continue
				}
				logger.Debugw("frame received", "frame", header.Frame, "timestamp", header.Timestamp,
					"width", header.Width, "height", header.Height)
			}
		}
	}
}

func applyConfigUpdates(
	watcher *config.Watcher,
	pipeline *fisheye.Pipeline,
	backend *fake.Backend,
	logger logging.Logger,
) func(context.Context) {
	return func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-watcher.Updates():
				if err := reconfigure(cfg, pipeline, backend); err != nil {
					logger.Warnw("cannot apply config change", "error", err)
					continue
				}
				logger.Infow("config change applied", "pipeline", pipeline.Name())
			}
		}
	}
}

func reconfigure(cfg *config.SensorConfig, pipeline *fisheye.Pipeline, backend *fake.Backend) error {
	env, err := cfg.Environment.Build()
	if err != nil {
		return errors.Wrap(err, "environment")
	}
	if err := pipeline.Reconfigure(cfg.Attributes); err != nil {
		return err
	}
	backend.SetEnvironment(env)
	return nil
}

func summary(name string, s fisheye.Stats, frames stream.Stream) string {
	t := table.NewWriter()
	t.SetTitle(name)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"ticks", s.Ticks})
	t.AppendRow(table.Row{"sent", s.Sent})
	for reason, n := range s.Dropped {
		t.AppendRow(table.Row{"dropped (" + string(reason) + ")", n})
	}
	t.AppendRow(table.Row{"undelivered", frames.Dropped()})
	t.AppendRow(table.Row{"unwrap mean", s.UnwrapMean.Round(time.Microsecond)})
	t.AppendRow(table.Row{"unwrap p99", s.UnwrapP99.Round(time.Microsecond)})
	return t.Render()
}
