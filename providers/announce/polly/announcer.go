package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/tiger/intersection-signal-sim/api/rules"
	"github.com/tiger/intersection-signal-sim/api/scenario"
	"github.com/tiger/intersection-signal-sim/internal/observability/telemetry"
	"github.com/tiger/intersection-signal-sim/internal/runtime/signalfsm"
)

const ProviderID = "announce-amazon-polly"

// Outcome classes for a synthesis attempt.
const (
	ClassSuccess               = "success"
	ClassCancelled             = "cancelled"
	ClassTimeout               = "timeout"
	ClassOverload              = "overload"
	ClassBlocked               = "blocked"
	ClassInfrastructureFailure = "infrastructure_failure"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
	Emitter telemetry.Emitter
	RunID   string
}

// Clip is one synthesized announcement.
type Clip struct {
	Tick      int
	At        scenario.Timestamp
	Crosswalk string
	Text      string
	Audio     []byte
}

// FileName is a stable name for persisting the clip.
func (c Clip) FileName() string {
	return fmt.Sprintf("tick-%05d-%s.mp3", c.Tick, strings.ToLower(c.Crosswalk))
}

// Failure records an announcement that could not be synthesized.
type Failure struct {
	Tick      int
	Crosswalk string
	Class     string
	Reason    string
}

// Announcer speaks "walk" announcements whenever a signal change opens a
// crosswalk that was closed. It implements simulation.SignalObserver.
type Announcer struct {
	mu       sync.Mutex
	client   synthClient
	cfg      Config
	open     map[string]bool
	clips    []Clip
	failures []Failure
}

func ConfigFromEnv() Config {
	return Config{
		Region:  defaultString(os.Getenv("SIGSIM_ANNOUNCE_POLLY_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv("SIGSIM_ANNOUNCE_POLLY_VOICE"), "Joanna"),
		Engine:  defaultString(os.Getenv("SIGSIM_ANNOUNCE_POLLY_ENGINE"), "neural"),
		Timeout: 15 * time.Second,
	}
}

func NewAnnouncer(cfg Config) *Announcer {
	return NewAnnouncerWithClient(cfg, nil)
}

func NewAnnouncerWithClient(cfg Config, client synthClient) *Announcer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Announcer{client: client, cfg: cfg}
}

// Prime seeds the crosswalk state from the initial signal so that crosswalks
// already open at start are not announced.
func (a *Announcer) Prime(signal scenario.SignalStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = openCrosswalks(signal)
}

// Announcement is the spoken text for crosswalk signal key.
func Announcement(crosswalk string) string {
	name := strings.TrimPrefix(crosswalk, rules.CrosswalkSignalPrefix)
	name = strings.ToLower(strings.Trim(strings.ReplaceAll(name, "_", " "), " "))
	if name == "" {
		return "Walk sign is on."
	}
	return "Walk sign is on to cross " + name + "."
}

// SignalChanged synthesizes one clip per newly opened crosswalk.
func (a *Announcer) SignalChanged(ctx context.Context, tick int, change signalfsm.Change) {
	a.mu.Lock()
	now := openCrosswalks(change.Signal)
	var opened []string
	for key := range now {
		if !a.open[key] {
			opened = append(opened, key)
		}
	}
	a.open = now
	a.mu.Unlock()

	sort.Strings(opened)
	for _, key := range opened {
		a.announce(ctx, tick, change.At, key)
	}
}

func (a *Announcer) announce(ctx context.Context, tick int, at scenario.Timestamp, crosswalk string) {
	text := Announcement(crosswalk)
	audio, class, reason := a.synthesize(ctx, text)
	scope := telemetry.NewScope(a.cfg.Emitter, telemetry.Correlation{RunID: a.cfg.RunID, EmittedBy: ProviderID}).At(tick, at.Time().UnixMilli())

	a.mu.Lock()
	defer a.mu.Unlock()
	if class != ClassSuccess {
		a.failures = append(a.failures, Failure{Tick: tick, Crosswalk: crosswalk, Class: class, Reason: reason})
		scope.Warn("announcement_failed", "walk announcement could not be synthesized", map[string]string{
			"crosswalk": crosswalk,
			"class":     class,
			"reason":    reason,
		})
		return
	}
	a.clips = append(a.clips, Clip{Tick: tick, At: at, Crosswalk: crosswalk, Text: text, Audio: audio})
	scope.Debug("announcement_synthesized", text, map[string]string{
		"crosswalk": crosswalk,
		"bytes":     strconv.Itoa(len(audio)),
	})
}

func (a *Announcer) synthesize(ctx context.Context, text string) ([]byte, string, string) {
	if ctx.Err() != nil {
		return nil, ClassCancelled, "provider_cancelled"
	}
	client, err := a.resolveClient(ctx)
	if err != nil {
		return nil, ClassBlocked, err.Error()
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(a.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(callCtx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(a.cfg.VoiceID),
	})
	if err != nil {
		class, reason := normalizePollyError(err)
		return nil, class, reason
	}
	if output == nil || output.AudioStream == nil {
		return nil, ClassInfrastructureFailure, "provider_empty_audio"
	}
	defer output.AudioStream.Close()
	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, ClassInfrastructureFailure, "provider_read_error"
	}
	return audio, ClassSuccess, ""
}

// Clips returns synthesized announcements in order.
func (a *Announcer) Clips() []Clip {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Clip, len(a.clips))
	copy(out, a.clips)
	return out
}

// Failures returns announcements that could not be synthesized.
func (a *Announcer) Failures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Failure, len(a.failures))
	copy(out, a.failures)
	return out
}

func openCrosswalks(signal scenario.SignalStatus) map[string]bool {
	out := map[string]bool{}
	for key, light := range signal.Lights {
		if strings.HasPrefix(key, rules.CrosswalkSignalPrefix) && light.PermitsCrossing() {
			out[key] = true
		}
	}
	return out
}

func normalizePollyError(err error) (string, string) {
	if errors.Is(err, context.Canceled) {
		return ClassCancelled, "provider_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout, "provider_timeout"
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "ThrottlingException":
			return ClassOverload, "provider_overload"
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException", "EngineNotSupportedException", "AccessDeniedException":
			return ClassBlocked, "provider_client_error"
		default:
			return ClassInfrastructureFailure, "provider_server_error"
		}
	}
	return ClassInfrastructureFailure, "provider_transport_error"
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (a *Announcer) resolveClient(ctx context.Context) (synthClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.client = polly.NewFromConfig(awsCfg)
	return a.client, nil
}
