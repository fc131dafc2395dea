package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"ksched/internal/machine"
	"ksched/internal/mem"
	"ksched/internal/sched"
	"ksched/internal/trace"
	"ksched/internal/workload"
)

// stackBase is the first page frame of the kernel stack pool.
const stackBase mem.PFN = 0x100

func newRunCmd() *cobra.Command {
	var (
		workloadPath string
		csvPath      string
		ticks        int64
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload until it finishes or the tick limit is reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			wl, err := workload.Load(workloadPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var console io.Writer = cmd.OutOrStdout()
			if quiet {
				console = nil
			}
			rec := trace.NewRecorder(console)
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("create csv: %w", err)
				}
				defer f.Close()
				if err := rec.EnableCSV(f); err != nil {
					return fmt.Errorf("write csv header: %w", err)
				}
			}

			stacks, err := mem.NewPool(stackBase, cfg.StackOrder, cfg.StackBlocks)
			if err != nil {
				return err
			}
			m := machine.New(cfg.CPUs, logger)
			k, err := sched.New(cfg, m, stacks, logger)
			if err != nil {
				return err
			}

			recCtx, recStop := context.WithCancel(context.Background())
			recDone := make(chan error, 1)
			if ev := k.Events(); ev != nil {
				go func() { recDone <- rec.Run(recCtx, ev) }()
			} else {
				recDone <- nil
			}

			if err := m.Boot(k); err != nil {
				recStop()
				return err
			}
			inst, err := wl.Build(k, m, logger)
			if err != nil {
				m.Stop()
				recStop()
				return err
			}
			if err := inst.Start(ctx, m); err != nil {
				m.Stop()
				recStop()
				return err
			}

			runErr := drive(ctx, m, inst, time.Duration(cfg.TickMS)*time.Millisecond, ticks)
			m.Stop()
			recStop()
			if err := <-recDone; err != nil {
				return fmt.Errorf("trace: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n%s: %d ticks, %d events dropped, finished=%t\n",
				wl.Name, k.Ticks(), k.Dropped(), isDone(inst))
			rec.Summary(out)
			for _, p := range inst.Programs {
				st := p.Stats
				fmt.Fprintf(out, "%-12s runs=%d taken=%d timeouts=%d given=%d written=%d read=%d stopped=%d\n",
					p.Name, st.Runs.Load(), st.Taken.Load(), st.TimedOut.Load(), st.Given.Load(),
					st.Written.Load(), st.Read.Load(), st.Destroyed.Load())
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&workloadPath, "workload", "w", "configs/workload.yml", "Workload description")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write every event to this CSV file")
	cmd.Flags().Int64Var(&ticks, "ticks", 10000, "Stop after this many ticks (0 for no limit)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")

	return cmd
}

// drive ticks the machine until the workload's process finishes, the tick
// limit is hit or ctx is cancelled.
func drive(ctx context.Context, m *machine.Machine, inst *workload.Instance, interval time.Duration, limit int64) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx, interval, limit) }()

	select {
	case <-inst.Process.Done():
		cancel()
		<-done
		return nil
	case err := <-done:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func isDone(inst *workload.Instance) bool {
	select {
	case <-inst.Process.Done():
		return true
	default:
		return false
	}
}
