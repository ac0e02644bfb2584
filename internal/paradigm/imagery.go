package paradigm

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region config
// ImageryConfig selects events, channels and the trial window.
type ImageryConfig struct {
	Events   []string     `yaml:"events"`
	NClasses int          `yaml:"n_classes"`
	TMin     float64      `yaml:"tmin"`
	TMax     *float64     `yaml:"tmax"` // nil: end of the dataset interval
	Channels []string     `yaml:"channels"`
	Filters  [][2]float64 `yaml:"filters"`
	Parallel int          `yaml:"parallel"` // subjects loaded concurrently
}

// #endregion config

// #region imagery
// Imagery epochs event-locked windows out of continuous runs.
type Imagery struct {
	cfg    ImageryConfig
	filter Filter
}

// NewImagery validates the window and class configuration.
func NewImagery(cfg ImageryConfig, filter Filter) (*Imagery, error) {
	if cfg.TMax != nil && cfg.TMin >= *cfg.TMax {
		return nil, fmt.Errorf("%w: tmin %.3f must be lower than tmax %.3f", errkind.ErrConfiguration, cfg.TMin, *cfg.TMax)
	}
	if cfg.NClasses > 0 && len(cfg.Events) > 0 && cfg.NClasses > len(cfg.Events) {
		return nil, fmt.Errorf("%w: n_classes %d exceeds %d events", errkind.ErrConfiguration, cfg.NClasses, len(cfg.Events))
	}
	for _, band := range cfg.Filters {
		if band[0] >= band[1] {
			return nil, fmt.Errorf("%w: filter band %v is empty", errkind.ErrConfiguration, band)
		}
	}
	if filter == nil {
		filter = Passthrough{}
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 4
	}
	return &Imagery{cfg: cfg, filter: filter}, nil
}

func (p *Imagery) Name() string {
	if len(p.cfg.Filters) > 1 {
		return "FilterBankImagery"
	}
	return "Imagery"
}

// Accepts checks that enough of the requested events exist in the dataset.
func (p *Imagery) Accepts(ds dataset.Dataset) error {
	_, err := p.usedEvents(ds)
	return err
}

// usedEvents maps selected event codes to labels.
func (p *Imagery) usedEvents(ds dataset.Dataset) (map[int]string, error) {
	ids := ds.EventIDs()
	names := p.cfg.Events
	if len(names) == 0 {
		names = slices.Sorted(maps.Keys(ids))
	}
	used := make(map[int]string)
	for _, name := range names {
		if code, ok := ids[name]; ok {
			used[code] = name
		}
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("%w: none of events %v in dataset %s", errkind.ErrConfiguration, names, ds.Code())
	}
	if p.cfg.NClasses > 0 {
		if len(used) < p.cfg.NClasses {
			return nil, fmt.Errorf("%w: dataset %s has %d of the requested classes, need %d",
				errkind.ErrConfiguration, ds.Code(), len(used), p.cfg.NClasses)
		}
		codes := slices.Sorted(maps.Keys(used))
		for _, c := range codes[p.cfg.NClasses:] {
			delete(used, c)
		}
	}
	return used, nil
}

// window returns the epoch start offset (seconds from onset) and its length in samples.
func (p *Imagery) window(ds dataset.Dataset) (float64, int, error) {
	iv := ds.Interval()
	start := iv[0] + p.cfg.TMin
	end := iv[1]
	if p.cfg.TMax != nil {
		end = iv[0] + *p.cfg.TMax
	}
	n := int(math.Round((end - start) * ds.SFreq()))
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: empty window [%.3f, %.3f]", errkind.ErrConfiguration, start, end)
	}
	return start, n, nil
}

// #endregion imagery

// #region get-data
type subjectPart struct {
	x      []float64
	labels []string
	meta   dataset.Metadata
	epochs []Epoch
	raws   []dataset.Recording
}

// GetData loads the requested subjects (all when empty). Subjects are read
// concurrently but rows are returned in subject, session, run order.
func (p *Imagery) GetData(ctx context.Context, ds dataset.Dataset, subjects []int, opts Options) (*Data, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	used, err := p.usedEvents(ds)
	if err != nil {
		return nil, err
	}
	offset, nTimes, err := p.window(ds)
	if err != nil {
		return nil, err
	}
	picks, err := p.picks(ds)
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		subjects = ds.Subjects()
	}

	parts := make([]subjectPart, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallel)
	for i, subject := range subjects {
		g.Go(func() error {
			part, err := p.loadSubject(gctx, ds, subject, used, picks, offset, nTimes, opts)
			if err != nil {
				return fmt.Errorf("subject %d: %w", subject, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nFilters := len(p.cfg.Filters)
	out := &Data{}
	var values []float64
	for _, part := range parts {
		values = append(values, part.x...)
		out.Labels = append(out.Labels, part.labels...)
		out.Meta = append(out.Meta, part.meta...)
		out.Epochs = append(out.Epochs, part.epochs...)
		out.Raws = append(out.Raws, part.raws...)
	}
	shape := []int{len(out.Labels), len(picks), nTimes}
	if nFilters > 0 {
		shape = append(shape, nFilters)
	}
	out.X = dataset.Tensor{Shape: shape, Data: values}
	if out.X.Data == nil {
		out.X.Data = []float64{}
	}
	if err := out.Check(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Imagery) picks(ds dataset.Dataset) ([]int, error) {
	all := ds.Channels()
	if len(p.cfg.Channels) == 0 {
		idx := make([]int, len(all))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	idx := make([]int, len(p.cfg.Channels))
	for i, name := range p.cfg.Channels {
		j := slices.Index(all, name)
		if j < 0 {
			return nil, fmt.Errorf("%w: channel %s not in dataset %s", errkind.ErrConfiguration, name, ds.Code())
		}
		idx[i] = j
	}
	return idx, nil
}

func (p *Imagery) loadSubject(ctx context.Context, ds dataset.Dataset, subject int, used map[int]string,
	picks []int, offset float64, nTimes int, opts Options) (subjectPart, error) {
	var part subjectPart
	for _, session := range ds.Sessions(subject) {
		for _, run := range ds.Runs(subject, session) {
			rec, err := ds.Recording(ctx, subject, session, run)
			if err != nil {
				return part, err
			}
			epochs := p.processRun(rec, used, picks, offset, nTimes)
			if len(epochs) == 0 {
				continue
			}
			if opts.ReturnRaws {
				part.raws = append(part.raws, rec)
			}
			for _, ep := range epochs {
				part.labels = append(part.labels, ep.Label)
				part.meta = append(part.meta, ep.Row)
				part.x = append(part.x, ep.Data.Data...)
				if opts.ReturnEpochs {
					part.epochs = append(part.epochs, ep)
				}
			}
		}
	}
	return part, nil
}

// processRun returns nil when the run holds none of the selected events.
// Windows running past the end of the recording are dropped.
func (p *Imagery) processRun(rec dataset.Recording, used map[int]string, picks []int, offset float64, nTimes int) []Epoch {
	shift := int(math.Round(offset * rec.SFreq))
	nFilters := len(p.cfg.Filters)
	var out []Epoch
	for _, ev := range rec.Events {
		label, ok := used[ev.Code]
		if !ok {
			continue
		}
		start := ev.Sample + shift
		if start < 0 || start+nTimes > rec.Samples() {
			continue
		}
		shape := []int{len(picks), nTimes}
		if nFilters > 0 {
			shape = append(shape, nFilters)
		}
		t := dataset.NewTensor(shape...)
		for c, ch := range picks {
			segment := rec.Data[ch][start : start+nTimes]
			if nFilters == 0 {
				copy(t.Data[c*nTimes:], segment)
				continue
			}
			for f, band := range p.cfg.Filters {
				filtered := p.filter.Apply(slices.Clone(segment), rec.SFreq, band[0], band[1])
				for s, v := range filtered {
					t.Data[(c*nTimes+s)*nFilters+f] = v
				}
			}
		}
		out = append(out, Epoch{
			Row:   dataset.Row{Subject: rec.Subject, Session: rec.Session, Run: rec.Run},
			Label: label,
			Data:  t,
		})
	}
	return out
}

// #endregion get-data
