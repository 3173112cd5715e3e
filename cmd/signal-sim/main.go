package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiger/intersection-signal-sim/api/rules"
	apiscenario "github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/experiment"
	"github.com/tiger/intersection-signal-sim/internal/observability/telemetry"
	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
	"github.com/tiger/intersection-signal-sim/internal/policy/registry"
	"github.com/tiger/intersection-signal-sim/internal/runtime/batch"
	"github.com/tiger/intersection-signal-sim/internal/runtime/rightofway"
	"github.com/tiger/intersection-signal-sim/internal/runtime/simulation"
	scenarioload "github.com/tiger/intersection-signal-sim/internal/scenario"
	"github.com/tiger/intersection-signal-sim/providers/announce/polly"
	"github.com/tiger/intersection-signal-sim/providers/decision"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "signal-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, stderr io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errors.New("command is required")
	}
	switch args[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "validate":
		return runValidate(args[1:], stdout)
	}

	cleanupTelemetry, err := setupTelemetry(stderr)
	if err != nil {
		return err
	}
	defer cleanupTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch args[0] {
	case "run":
		return runSingle(ctx, args[1:], stdout, now)
	case "batch":
		return runBatch(ctx, args[1:], stdout, now)
	default:
		printUsage(stdout)
		return fmt.Errorf("unsupported command %q", args[0])
	}
}

func setupTelemetry(stderr io.Writer) (func(), error) {
	previous := telemetry.DefaultEmitter()

	pipeline, err := telemetry.NewPipelineFromEnv(stderr)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup failed: %w", err)
	}
	if pipeline == nil {
		return func() {
			telemetry.SetDefaultEmitter(previous)
		}, nil
	}

	telemetry.SetDefaultEmitter(pipeline)
	return func() {
		_ = pipeline.Close()
		telemetry.SetDefaultEmitter(previous)
	}, nil
}

// simFlags are shared by run and batch.
type simFlags struct {
	rulesPath   *string
	policy      *string
	decider     *string
	keyMode     *string
	stepSeconds *int
	maxSteps    *int
	queueM      *float64
	maxWait     *int
	outDir      *string
}

func registerSimFlags(fs *flag.FlagSet) simFlags {
	return simFlags{
		rulesPath:   fs.String("rules", "", "signal configuration file (.json, .yaml); built-in plan when empty"),
		policy:      fs.String("policy", "fixed_cycle", "policy selector: "+strings.Join(registry.Selectors(), ", ")),
		decider:     fs.String("decider", "", "decision provider for the delegating policy (openai, deepseek, anthropic); env when empty"),
		keyMode:     fs.String("key-mode", string(rightofway.KeyLane), "movement key convention: lane or destination"),
		stepSeconds: fs.Int("step", simulation.DefaultStepSeconds, "virtual seconds per tick"),
		maxSteps:    fs.Int("max-steps", simulation.DefaultMaxSteps, "tick limit"),
		queueM:      fs.Float64("queue-distance", simulation.DefaultQueueDistanceM, "queue threshold in meters"),
		maxWait:     fs.Int("max-wait", delegating.DefaultMaxWait, "advisory maximum wait in phases for the delegating policy"),
		outDir:      fs.String("out", "experiments", "experiment root directory; empty disables persistence"),
	}
}

func (f simFlags) loadRules() (rules.Rules, error) {
	if strings.TrimSpace(*f.rulesPath) == "" {
		return rules.DefaultRules(), nil
	}
	return scenarioload.LoadRules(*f.rulesPath)
}

func (f simFlags) policyFactory(r rules.Rules) (registry.Factory, error) {
	name, err := registry.Canonical(*f.policy)
	if err != nil {
		return nil, err
	}
	opts := registry.Options{
		Delegating: delegating.Config{
			MaxWait:        *f.maxWait,
			KeyMode:        rightofway.KeyMode(*f.keyMode),
			QueueDistanceM: *f.queueM,
		},
	}
	if name == delegating.Name {
		decider, err := decision.NewFromEnv(*f.decider)
		if err != nil {
			return nil, err
		}
		opts.Delegating.Decider = decider
	}
	return registry.NewFactory(name, r, opts)
}

func (f simFlags) simConfig(name string) simulation.Config {
	return simulation.Config{
		ScenarioName:   name,
		StepSeconds:    *f.stepSeconds,
		MaxSteps:       *f.maxSteps,
		QueueDistanceM: *f.queueM,
		KeyMode:        rightofway.KeyMode(*f.keyMode),
	}
}

func (f simFlags) strategy(r rules.Rules, res simulation.Result) experiment.Strategy {
	return experiment.Strategy{
		Name:        res.Policy,
		Selector:    *f.policy,
		StepSeconds: float64(*f.stepSeconds),
		KeyMode:     *f.keyMode,
		Rules:       r,
	}
}

func runSingle(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	scenarioPath := fs.String("scenario", "", "scenario json file")
	announce := fs.Bool("announce", false, "synthesize walk announcements with Amazon Polly")
	asJSON := fs.Bool("json", false, "print metrics as json")
	flags := registerSimFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*scenarioPath) == "" {
		return errors.New("-scenario is required")
	}

	sc, err := scenarioload.LoadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	r, err := flags.loadRules()
	if err != nil {
		return err
	}
	factory, err := flags.policyFactory(r)
	if err != nil {
		return err
	}
	p, err := factory()
	if err != nil {
		return err
	}

	cfg := flags.simConfig(scenarioName(*scenarioPath))
	var announcer *polly.Announcer
	if *announce {
		announcer = polly.NewAnnouncer(polly.ConfigFromEnv())
		announcer.Prime(sc.SignalStatus)
		cfg.Observers = append(cfg.Observers, announcer)
	}

	sim, err := simulation.New(sc, p, cfg)
	if err != nil {
		return err
	}
	res, err := sim.Run(ctx)
	if err != nil {
		return err
	}

	dir, err := persist(flags, now, res, sc, r)
	if err != nil {
		return err
	}
	if announcer != nil && dir != "" {
		for _, clip := range announcer.Clips() {
			if err := experiment.SaveAudio(dir, clip.FileName(), clip.Audio); err != nil {
				return fmt.Errorf("save announcement: %w", err)
			}
		}
	}

	if *asJSON {
		return writeJSON(stdout, res.Metrics)
	}
	printSummary(stdout, res, dir)
	return nil
}

func runBatch(ctx context.Context, args []string, stdout io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	workers := fs.Int("workers", 4, "concurrent runs")
	flags := registerSimFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return errors.New("at least one scenario file is required")
	}

	r, err := flags.loadRules()
	if err != nil {
		return err
	}
	factory, err := flags.policyFactory(r)
	if err != nil {
		return err
	}

	jobs := make([]batch.Job, 0, len(paths))
	scenarios := make(map[string]string, len(paths))
	for _, path := range paths {
		sc, err := scenarioload.LoadScenario(path)
		if err != nil {
			return err
		}
		id := scenarioName(path)
		if _, dup := scenarios[id]; dup {
			id = path
		}
		scenarios[id] = path
		jobs = append(jobs, batch.Job{
			ID:        id,
			Scenario:  sc,
			NewPolicy: batch.PolicyFactory(factory),
			Config:    flags.simConfig(id),
		})
	}

	outcomes, err := batch.RunAll(ctx, *workers, jobs)
	if err != nil {
		return err
	}

	var failed int
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			_, _ = fmt.Fprintf(stdout, "signal-sim: %s failed: %v\n", o.JobID, o.Err)
			continue
		}
		dir, err := persist(flags, now, o.Result, jobs[i].Scenario, r)
		if err != nil {
			return err
		}
		printSummary(stdout, o.Result, dir)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	rulesPath := fs.String("rules", "", "signal configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rulesPath == "" && fs.NArg() == 0 {
		return errors.New("nothing to validate")
	}
	if *rulesPath != "" {
		r, err := scenarioload.LoadRules(*rulesPath)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "signal-sim: rules ok: %s (%d configurations)\n", *rulesPath, len(r.Configurations))
	}
	for _, path := range fs.Args() {
		sc, err := scenarioload.LoadScenario(path)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "signal-sim: scenario ok: %s (%d vehicles, %d pedestrians)\n", path, len(sc.VehicleData), sc.Pedestrians.Total())
	}
	return nil
}

func persist(flags simFlags, now func() time.Time, res simulation.Result, sc apiscenario.Scenario, r rules.Rules) (string, error) {
	if strings.TrimSpace(*flags.outDir) == "" {
		return "", nil
	}
	store := experiment.Store{Root: *flags.outDir, Now: now}
	return store.Save(res, sc, flags.strategy(r, res))
}

func printSummary(w io.Writer, res simulation.Result, dir string) {
	m := res.Metrics
	_, _ = fmt.Fprintf(w, "signal-sim: %s policy=%s termination=%s steps=%d vehicles=%d forced=%d pedestrians=%d avg_delay=%.1fs stops=%d co2_kg=%.3f",
		res.Scenario, res.Policy, res.Termination, res.Steps, m.VehiclesPassed, m.ForcedPassages, m.PedestriansPassed,
		m.AverageDelayPerVehicle, m.TotalStops, m.CarbonEmissions.CO2Kg)
	if dir != "" {
		_, _ = fmt.Fprintf(w, " dir=%s", dir)
	}
	_, _ = fmt.Fprintln(w)
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func scenarioName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "signal-sim usage:")
	_, _ = fmt.Fprintln(w, "  signal-sim run -scenario <file> [-rules <file>] [-policy fixed_cycle|delegating] [-decider openai|deepseek|anthropic] [-out <dir>] [-announce] [-json]")
	_, _ = fmt.Fprintln(w, "  signal-sim batch [-workers N] [-rules <file>] [-policy ...] <scenario> [<scenario>...]")
	_, _ = fmt.Fprintln(w, "  signal-sim validate [-rules <file>] [<scenario>...]")
}
