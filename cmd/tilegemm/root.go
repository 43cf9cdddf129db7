package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/LynnColeArt/tilegemm"
)

// cornerSize bounds the printed block of the result
const cornerSize = 5

type options struct {
	size        int
	blockSize   int
	fillA       float32
	fillB       float32
	remainder   string
	verify      bool
	logLevel    string
	memoryLimit uint64
	features    []string
}

func defaultOptions() options {
	return options{
		size:      tilegemm.DefaultMatrixSize,
		blockSize: tilegemm.DefaultBlockSize,
		fillA:     2.0,
		fillB:     3.0,
		remainder: tilegemm.RemainderPartialBlock.String(),
		logLevel:  zerolog.InfoLevel.String(),
	}
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	fs.IntVarP(&o.size, "size", "n", o.size, "matrix dimension N")
	fs.IntVarP(&o.blockSize, "block", "b", o.blockSize, "tile width along the reduction dimension")
	fs.Float32Var(&o.fillA, "fill-a", o.fillA, "value every element of A is set to")
	fs.Float32Var(&o.fillB, "fill-b", o.fillB, "value every element of B is set to")
	fs.StringVar(&o.remainder, "remainder", o.remainder, "policy when the block size does not divide N (partial|reject)")
	fs.BoolVar(&o.verify, "verify", o.verify, "check the result against a BLAS reference")
	fs.StringVar(&o.logLevel, "log-level", o.logLevel, "log level (debug|info|warn|error)")
	fs.Uint64Var(&o.memoryLimit, "memory-limit", o.memoryLimit, "device memory budget in bytes (0 = device total)")
	fs.StringSliceVar(&o.features, "require", o.features, "CPU features the accelerator must support")
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()

	version, _ := tilegemm.Version()
	if version == "" {
		version = "unknown"
	}

	cmd := &cobra.Command{
		Use:           "tilegemm",
		Short:         "Tiled square matrix multiplication on the default accelerator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			}
			return err
		},
	}
	bindFlags(cmd.Flags(), &opts)
	return cmd
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level: %w", err)
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: w != os.Stderr}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func run(stdout, stderr io.Writer, o options) error {
	logger, err := newLogger(stderr, o.logLevel)
	if err != nil {
		return err
	}

	policy, err := tilegemm.ParseRemainderPolicy(o.remainder)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	matOpts := tilegemm.MatMulOptions{BlockSize: o.blockSize, Remainder: policy}
	if err := matOpts.Validate(o.size); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	cfg := tilegemm.DefaultConfig()
	cfg.Logger = logger
	cfg.MemoryLimit = o.memoryLimit
	cfg.RequiredFeatures = o.features

	ctx, err := tilegemm.NewContext(cfg)
	if err != nil {
		return fmt.Errorf("select accelerator: %w", err)
	}
	defer closeContext(ctx, logger)

	logger.Info().Stringer("device", ctx.Device()).Msg("accelerator selected")

	q := ctx.NewQueue()
	a := tilegemm.NewMatrixFilled(o.size, o.fillA)
	b := tilegemm.NewMatrixFilled(o.size, o.fillB)
	c := tilegemm.NewMatrix(o.size)

	start := time.Now()
	if err := tilegemm.MatMul(ctx, q, a, b, c, matOpts); err != nil {
		return fmt.Errorf("matmul: %w", err)
	}
	elapsed := time.Since(start)

	if err := printCorner(stdout, c, cornerSize); err != nil {
		return fmt.Errorf("print result: %w", err)
	}

	printSummary(stderr, o.size, elapsed)

	if o.verify {
		result := tilegemm.VerifyAgainstBLAS(a, b, c)
		if !result.OK() {
			return fmt.Errorf("verify: %s", result)
		}
		logger.Info().Msg("result matches BLAS reference")
	}
	return nil
}

// closeContext drains the context's queues, logging any failure that no
// Join has reported yet.
func closeContext(ctx *tilegemm.Context, logger zerolog.Logger) {
	if err := ctx.Close(); err != nil {
		logger.Warn().Err(err).Msg("context close failed")
	}
}

// printCorner writes the top-left min(limit, N) square of m, one row per line.
func printCorner(w io.Writer, m *tilegemm.Matrix, limit int) error {
	if _, err := fmt.Fprintln(w, "Matrix multiplication result:"); err != nil {
		return err
	}
	k := min(limit, m.N)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if _, err := fmt.Fprintf(w, "%g ", m.At(i, j)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, n int, elapsed time.Duration) {
	ops := 2 * float64(n) * float64(n) * float64(n)
	gflops := ops / elapsed.Seconds() / 1e9

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "%d×%d product in %v (%.2f GFLOPS, %d multiply-adds)\n", n, n, elapsed, gflops, int64(n)*int64(n)*int64(n))
}
