package paradigm

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region helpers
func newImagery(t *testing.T, cfg ImageryConfig) *Imagery {
	t.Helper()
	p, err := NewImagery(cfg, nil)
	if err != nil {
		t.Fatalf("NewImagery: %v", err)
	}
	return p
}

func distinct(labels []string) []string {
	out := slices.Clone(labels)
	slices.Sort(out)
	return slices.Compact(out)
}

func ptr(f float64) *float64 { return &f }

// #endregion helpers

func TestImageryArrayMode(t *testing.T) {
	p := newImagery(t, ImageryConfig{})
	ds := dataset.NewFake(dataset.FakeConfig{Subjects: 2})

	data, err := p.GetData(context.Background(), ds, []int{1}, Options{})
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if data.X.Len() != len(data.Labels) || len(data.Meta) != len(data.Labels) {
		t.Fatalf("misaligned: X=%d labels=%d meta=%d", data.X.Len(), len(data.Labels), len(data.Meta))
	}
	if len(data.X.Shape) != 3 {
		t.Fatalf("expected 3-D X, got %v", data.X.Shape)
	}
	if got := distinct(data.Labels); len(got) != 3 {
		t.Fatalf("expected 3 classes, got %v", got)
	}
	if got := data.Meta.Subjects(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only subject 1, got %v", got)
	}
	if got := data.Meta.Sessions(1); len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %v", got)
	}
}

func TestImageryReturnModes(t *testing.T) {
	p := newImagery(t, ImageryConfig{})
	ds := dataset.NewFake(dataset.FakeConfig{Subjects: 1})
	ctx := context.Background()

	epochs, err := p.GetData(ctx, ds, []int{1}, Options{ReturnEpochs: true})
	if err != nil {
		t.Fatalf("epochs: %v", err)
	}
	if len(epochs.Epochs) == 0 || len(epochs.Epochs) != len(epochs.Labels) {
		t.Fatalf("expected aligned epochs, got %d/%d", len(epochs.Epochs), len(epochs.Labels))
	}
	if epochs.X.Len() != len(epochs.Epochs) {
		t.Fatalf("expected X alongside epochs, got %v", epochs.X.Shape)
	}

	raws, err := p.GetData(ctx, ds, []int{1}, Options{ReturnRaws: true})
	if err != nil {
		t.Fatalf("raws: %v", err)
	}
	if len(raws.Raws) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(raws.Raws))
	}

	_, err = p.GetData(ctx, ds, []int{1}, Options{ReturnEpochs: true, ReturnRaws: true})
	if !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestImageryWindowValidation(t *testing.T) {
	if _, err := NewImagery(ImageryConfig{TMin: 1, TMax: ptr(0)}, nil); !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewImagery(ImageryConfig{NClasses: 3, Events: []string{"hands", "feet"}}, nil); err == nil {
		t.Fatal("expected error for more classes than events")
	}
}

func TestImageryFilterBank(t *testing.T) {
	p := newImagery(t, ImageryConfig{Filters: [][2]float64{{7, 12}, {12, 24}}})
	ds := dataset.NewFake(dataset.FakeConfig{Subjects: 1})

	data, err := p.GetData(context.Background(), ds, []int{1}, Options{})
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if len(data.X.Shape) != 4 || data.X.Shape[3] != 2 {
		t.Fatalf("expected 4-D X with 2 filters, got %v", data.X.Shape)
	}
	if err := data.X.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestImageryDroppedEvents(t *testing.T) {
	ds := dataset.NewFake(dataset.FakeConfig{Subjects: 1})
	tmax := ds.Interval()[1]
	regular := newImagery(t, ImageryConfig{TMax: ptr(tmax)})
	large := newImagery(t, ImageryConfig{TMax: ptr(10 * tmax)})

	a, err := regular.GetData(context.Background(), ds, nil, Options{})
	if err != nil {
		t.Fatalf("regular: %v", err)
	}
	b, err := large.GetData(context.Background(), ds, nil, Options{})
	if err != nil {
		t.Fatalf("large: %v", err)
	}
	if a.Len() <= b.Len() {
		t.Fatalf("expected large windows to drop epochs: %d vs %d", a.Len(), b.Len())
	}
}

func TestImageryEventSelection(t *testing.T) {
	ds := dataset.NewFake(dataset.FakeConfig{Subjects: 1})

	lr := newImagery(t, ImageryConfig{Events: []string{"left_hand", "right_hand"}})
	data, err := lr.GetData(context.Background(), ds, nil, Options{})
	if err != nil {
		t.Fatalf("GetData: %v", err)
	}
	if got := distinct(data.Labels); !slices.Equal(got, []string{"left_hand", "right_hand"}) {
		t.Fatalf("unexpected labels %v", got)
	}

	missing := newImagery(t, ImageryConfig{Events: []string{"tongue"}})
	if _, err := missing.GetData(context.Background(), ds, nil, Options{}); !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if err := missing.Accepts(ds); err == nil {
		t.Fatal("expected Accepts to reject dataset")
	}
}

func TestImageryRunWithoutSelectedEvents(t *testing.T) {
	p := newImagery(t, ImageryConfig{Events: []string{"feet"}})
	rec := dataset.Recording{
		SFreq:  128,
		Data:   [][]float64{make([]float64, 1024)},
		Events: []dataset.Event{{Sample: 10, Code: 1}, {Sample: 500, Code: 2}},
	}
	used := map[int]string{3: "feet"}
	if got := p.processRun(rec, used, []int{0}, 0, 128); got != nil {
		t.Fatalf("expected nil, got %d epochs", len(got))
	}
}

func TestImageryChannelOrder(t *testing.T) {
	a := dataset.NewFake(dataset.FakeConfig{Subjects: 1, Channels: []string{"C3", "Cz", "C4"}})
	b := dataset.NewFake(dataset.FakeConfig{Subjects: 1, Channels: []string{"Cz", "C4", "C3"}})
	p := newImagery(t, ImageryConfig{Channels: []string{"C4", "C3", "Cz"}})

	ea, err := p.GetData(context.Background(), a, []int{1}, Options{})
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	eb, err := p.GetData(context.Background(), b, []int{1}, Options{})
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if ea.X.Channels() != 3 || eb.X.Channels() != 3 {
		t.Fatalf("expected 3 channels, got %d and %d", ea.X.Channels(), eb.X.Channels())
	}

	bad := newImagery(t, ImageryConfig{Channels: []string{"Oz"}})
	if _, err := bad.GetData(context.Background(), a, nil, Options{}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
