package stall

const (
	DefaultWindow = 20
	DefaultWarmup = 20
)

// Config sizes the trailing window and the ticks ignored at run start.
type Config struct {
	Window int
	Warmup int
}

func (c Config) withDefaults() Config {
	if c.Window < 2 {
		c.Window = DefaultWindow
	}
	if c.Warmup < 1 {
		c.Warmup = DefaultWarmup
	}
	return c
}

// Detector flags a run whose queue length has not changed across a full
// trailing window while vehicles remain.
type Detector struct {
	cfg    Config
	window []int
	next   int
	filled int
}

// New returns a detector with defaults for unset fields.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{cfg: cfg, window: make([]int, cfg.Window)}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Observe records the queue length after tick and reports whether the run
// has stalled.
func (d *Detector) Observe(tick, queueLength, activeVehicles int) bool {
	d.window[d.next] = queueLength
	d.next = (d.next + 1) % len(d.window)
	if d.filled < len(d.window) {
		d.filled++
	}

	if tick <= d.cfg.Warmup || activeVehicles == 0 || d.filled < len(d.window) {
		return false
	}
	for _, v := range d.window {
		if v != d.window[0] {
			return false
		}
	}
	return true
}
