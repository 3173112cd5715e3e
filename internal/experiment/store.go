package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/runtime/kinematics"
	"github.com/tiger/intersection-signal-sim/internal/runtime/simulation"
)

// Artifact file names inside an experiment directory.
const (
	StatesFile            = "states.json"
	PassedVehiclesFile    = "passed_vehicles.json"
	PassedPedestriansFile = "passed_pedestrians.json"
	MetricsFile           = "metrics.json"
	ScenarioFile          = "scenario.json"
	StrategyFile          = "strategy.json"
	TraceArchiveFile      = "trace.msgpack"
	AudioDir              = "announcements"

	traceArchiveSchemaVersion = "v1"
	dirTimeLayout             = "20060102_150405"
)

// ErrRootRequired is returned when the store has no root directory.
var ErrRootRequired = errors.New("experiment root is required")

// Strategy describes the policy a run was evaluated with.
type Strategy struct {
	Name        string      `json:"name"`
	Selector    string      `json:"selector,omitempty"`
	StepSeconds float64     `json:"step_seconds,omitempty"`
	KeyMode     string      `json:"key_mode,omitempty"`
	Termination string      `json:"termination,omitempty"`
	Rules       rules.Rules `json:"rules"`
}

// Store writes run artifacts under Root.
type Store struct {
	Root  string
	Now   func() time.Time
	NewID func() string
}

func (s Store) withDefaults() Store {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	return s
}

// Save creates <Root>/<timestamp>_<id>/ and writes every artifact of res.
// It returns the directory path.
func (s Store) Save(res simulation.Result, sc scenario.Scenario, strategy Strategy) (string, error) {
	if strings.TrimSpace(s.Root) == "" {
		return "", ErrRootRequired
	}
	s = s.withDefaults()
	dir := filepath.Join(s.Root, s.Now().UTC().Format(dirTimeLayout)+"_"+s.NewID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create experiment dir: %w", err)
	}

	if strategy.Name == "" {
		strategy.Name = res.Policy
	}
	if strategy.Termination == "" {
		strategy.Termination = string(res.Termination)
	}
	passages := res.Passages
	if passages == nil {
		passages = []kinematics.Passage{}
	}

	artifacts := []struct {
		name  string
		value any
	}{
		{StatesFile, res.Trace},
		{PassedVehiclesFile, passages},
		{PassedPedestriansFile, res.PassedPedestrians},
		{MetricsFile, res.Metrics},
		{ScenarioFile, sc},
		{StrategyFile, strategy},
	}
	for _, a := range artifacts {
		if err := writeJSON(filepath.Join(dir, a.name), a.value); err != nil {
			return dir, err
		}
	}
	if err := WriteTraceArchive(filepath.Join(dir, TraceArchiveFile), NewTraceArchive(res)); err != nil {
		return dir, err
	}
	return dir, nil
}

// SaveAudio stores one announcement clip under dir.
func SaveAudio(dir, name string, audio []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("audio clip name is required")
	}
	target := filepath.Join(dir, AudioDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(target, filepath.Base(name)), audio, 0o644)
}

func writeJSON(path string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// TraceArchive is the compact per-tick trace.
type TraceArchive struct {
	SchemaVersion string        `msgpack:"schema_version"`
	RunID         string        `msgpack:"run_id"`
	Scenario      string        `msgpack:"scenario,omitempty"`
	Policy        string        `msgpack:"policy"`
	Termination   string        `msgpack:"termination"`
	Ticks         []TraceRecord `msgpack:"ticks"`
}

// TraceRecord is one snapshot without vehicle detail.
type TraceRecord struct {
	Tick               int               `msgpack:"tick"`
	Timestamp          string            `msgpack:"ts"`
	Configuration      string            `msgpack:"cfg,omitempty"`
	Reasoning          string            `msgpack:"why"`
	Lights             map[string]string `msgpack:"lights"`
	ActiveVehicles     int               `msgpack:"active"`
	QueueLength        int               `msgpack:"queue"`
	PassedVehicles     int               `msgpack:"passed_v"`
	PassedPedestrians  int               `msgpack:"passed_p"`
	WaitingPedestrians int               `msgpack:"waiting"`
	Crosswalks         map[string]int    `msgpack:"crosswalks,omitempty"`
}

// NewTraceArchive projects res onto the archive form.
func NewTraceArchive(res simulation.Result) TraceArchive {
	archive := TraceArchive{
		SchemaVersion: traceArchiveSchemaVersion,
		RunID:         res.RunID,
		Scenario:      res.Scenario,
		Policy:        res.Policy,
		Termination:   string(res.Termination),
		Ticks:         make([]TraceRecord, 0, len(res.Trace)),
	}
	for _, snap := range res.Trace {
		lights := make(map[string]string, len(snap.Signal.Lights))
		for k, v := range snap.Signal.Lights {
			lights[k] = string(v)
		}
		var crosswalks map[string]int
		if len(snap.Pedestrians.Crosswalks) > 0 {
			crosswalks = make(map[string]int, len(snap.Pedestrians.Crosswalks))
			for k, v := range snap.Pedestrians.Crosswalks {
				crosswalks[k] = v
			}
		}
		archive.Ticks = append(archive.Ticks, TraceRecord{
			Tick:               snap.Tick,
			Timestamp:          snap.Timestamp.String(),
			Configuration:      snap.Configuration,
			Reasoning:          snap.Reasoning,
			Lights:             lights,
			ActiveVehicles:     len(snap.Vehicles),
			QueueLength:        snap.QueueLength,
			PassedVehicles:     snap.PassedVehicles,
			PassedPedestrians:  snap.PassedPedestrians,
			WaitingPedestrians: snap.Pedestrians.Waiting,
			Crosswalks:         crosswalks,
		})
	}
	return archive
}

// WriteTraceArchive encodes archive to path.
func WriteTraceArchive(path string, archive TraceArchive) error {
	payload, err := msgpack.Marshal(&archive)
	if err != nil {
		return fmt.Errorf("encode trace archive: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write trace archive: %w", err)
	}
	return nil
}

// ReadTraceArchive loads an archive written by WriteTraceArchive.
func ReadTraceArchive(path string) (TraceArchive, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TraceArchive{}, err
	}
	var archive TraceArchive
	if err := msgpack.Unmarshal(raw, &archive); err != nil {
		return TraceArchive{}, fmt.Errorf("decode trace archive: %w", err)
	}
	if archive.SchemaVersion != traceArchiveSchemaVersion {
		return TraceArchive{}, fmt.Errorf("unsupported trace archive schema_version: %s", archive.SchemaVersion)
	}
	return archive, nil
}

// List returns experiment directory names under root, oldest first.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
