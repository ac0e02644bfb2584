package dataset

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
)

// #region fake-config
// FakeConfig shapes a synthetic dataset.
type FakeConfig struct {
	Paradigm       string // "imagery" | "p300" | "ssvep" | "rstate"
	Events         []string
	Channels       []string
	Subjects       int
	Sessions       int
	Runs           int
	TrialsPerClass int // per run
	SFreq          float64
	Interval       [2]float64
	Seed           uint64
}

// DefaultFakeConfig mirrors a small three-class motor imagery recording.
func DefaultFakeConfig() FakeConfig {
	return FakeConfig{
		Paradigm:       "imagery",
		Events:         []string{"left_hand", "right_hand", "feet"},
		Channels:       []string{"C3", "Cz", "C4"},
		Subjects:       10,
		Sessions:       2,
		Runs:           2,
		TrialsPerClass: 10,
		SFreq:          128,
		Interval:       [2]float64{0, 3},
		Seed:           42,
	}
}

// #endregion fake-config

// #region fake
// Fake generates seeded synthetic recordings. Each class adds a sinusoid on
// one channel during the trial window so class-dependent band power is
// separable by simple estimators.
type Fake struct {
	cfg FakeConfig
}

// NewFake fills zero fields of cfg from DefaultFakeConfig.
func NewFake(cfg FakeConfig) *Fake {
	def := DefaultFakeConfig()
	if cfg.Paradigm == "" {
		cfg.Paradigm = def.Paradigm
	}
	if len(cfg.Events) == 0 {
		cfg.Events = def.Events
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = def.Channels
	}
	if cfg.Subjects == 0 {
		cfg.Subjects = def.Subjects
	}
	if cfg.Sessions == 0 {
		cfg.Sessions = def.Sessions
	}
	if cfg.Runs == 0 {
		cfg.Runs = def.Runs
	}
	if cfg.TrialsPerClass == 0 {
		cfg.TrialsPerClass = def.TrialsPerClass
	}
	if cfg.SFreq == 0 {
		cfg.SFreq = def.SFreq
	}
	if cfg.Interval == [2]float64{} {
		cfg.Interval = def.Interval
	}
	return &Fake{cfg: cfg}
}

func (f *Fake) Code() string {
	return fmt.Sprintf("FakeDataset-%s-%d-%d--%s",
		f.cfg.Paradigm, f.cfg.Subjects, f.cfg.Sessions,
		strings.ToLower(strings.Join(f.cfg.Events, "-")))
}

func (f *Fake) Subjects() []int {
	out := make([]int, f.cfg.Subjects)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func (f *Fake) Sessions(subject int) []string {
	out := make([]string, f.cfg.Sessions)
	for i := range out {
		out[i] = fmt.Sprintf("session_%d", i)
	}
	return out
}

func (f *Fake) Runs(subject int, session string) []string {
	out := make([]string, f.cfg.Runs)
	for i := range out {
		out[i] = fmt.Sprintf("run_%d", i)
	}
	return out
}

func (f *Fake) Channels() []string { return slices.Clone(f.cfg.Channels) }

func (f *Fake) EventIDs() map[string]int {
	ids := make(map[string]int, len(f.cfg.Events))
	for i, e := range f.cfg.Events {
		ids[e] = i + 1
	}
	return ids
}

func (f *Fake) Interval() [2]float64 { return f.cfg.Interval }

func (f *Fake) SFreq() float64 { return f.cfg.SFreq }

// Recording synthesizes one run. Output is a pure function of the config and
// the (subject, session, run) triple.
func (f *Fake) Recording(ctx context.Context, subject int, session, run string) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return Recording{}, err
	}
	if subject < 1 || subject > f.cfg.Subjects {
		return Recording{}, fmt.Errorf("subject %d not in %s", subject, f.Code())
	}
	sessIdx := slices.Index(f.Sessions(subject), session)
	runIdx := slices.Index(f.Runs(subject, session), run)
	if sessIdx < 0 || runIdx < 0 {
		return Recording{}, fmt.Errorf("unknown session/run %s/%s for subject %d", session, run, subject)
	}

	rng := rand.New(rand.NewPCG(f.cfg.Seed, uint64(subject)<<32|uint64(sessIdx)<<16|uint64(runIdx)))

	sfreq := f.cfg.SFreq
	window := int(math.Round((f.cfg.Interval[1] - f.cfg.Interval[0]) * sfreq))
	spacing := window + int(1.5*sfreq)
	lead := int(sfreq)

	var codes []int
	for c := range f.cfg.Events {
		for range f.cfg.TrialsPerClass {
			codes = append(codes, c+1)
		}
	}
	rng.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })

	n := lead + len(codes)*spacing + lead
	data := make([][]float64, len(f.cfg.Channels))
	for ch := range data {
		data[ch] = make([]float64, n)
		for t := range data[ch] {
			data[ch][t] = rng.NormFloat64()
		}
	}

	events := make([]Event, len(codes))
	for i, code := range codes {
		onset := lead + i*spacing
		events[i] = Event{Sample: onset, Code: code}
		ch := (code - 1) % len(data)
		freq := 10.0 + float64(code)
		start := onset + int(f.cfg.Interval[0]*sfreq)
		for t := start; t < start+window && t < n; t++ {
			data[ch][t] += 3 * math.Sin(2*math.Pi*freq*float64(t)/sfreq)
		}
	}

	return Recording{
		Subject:  subject,
		Session:  session,
		Run:      run,
		Channels: slices.Clone(f.cfg.Channels),
		SFreq:    sfreq,
		Data:     data,
		Events:   events,
	}, nil
}

// #endregion fake
