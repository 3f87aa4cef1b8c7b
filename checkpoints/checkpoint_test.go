package checkpoints

import (
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/model"
)

func smallConfig() model.Config {
	cfg := model.DefaultConfig()
	cfg.NumInputs = 6
	cfg.NumHidden = 4
	return cfg
}

func testInput(t *testing.T, numInputs int) *mat.Dense {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	data := make([]float64, 3*numInputs)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(3, numInputs, data)
}

func TestRoundTrip(t *testing.T) {
	for _, mode := range []model.Mode{model.Dropout, model.Variational} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := smallConfig()
			trained, err := model.New(mode, cfg, rand.New(rand.NewSource(1)))
			if err != nil {
				t.Fatalf("building model: %v", err)
			}

			path := filepath.Join(t.TempDir(), "model.json")
			if err := Save(path, FromModel(trained)); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			// A fresh model starts from different random weights; after
			// Apply its deterministic outputs must match the original's.
			fresh, err := model.New(mode, cfg, rand.New(rand.NewSource(2)))
			if err != nil {
				t.Fatalf("building fresh model: %v", err)
			}
			if err := loaded.Apply(fresh); err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			x := testInput(t, cfg.NumInputs)
			want, err := trained.ForwardDeterministic(x)
			if err != nil {
				t.Fatalf("forward on original: %v", err)
			}
			got, err := fresh.ForwardDeterministic(x)
			if err != nil {
				t.Fatalf("forward on restored: %v", err)
			}
			if !mat.Equal(want, got) {
				t.Error("restored model outputs differ from the original")
			}
		})
	}
}

func TestRoundTripPreservesMetadata(t *testing.T) {
	m, err := model.New(model.Dropout, smallConfig(), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	c := FromModel(m)
	c.Metadata.Description = "unit test snapshot"

	path := filepath.Join(t.TempDir(), "model.json")
	if err := Save(path, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Mode != model.Dropout.String() {
		t.Errorf("mode = %q, want %q", loaded.Mode, model.Dropout.String())
	}
	if loaded.Metadata.Framework != "go-bayes" {
		t.Errorf("framework = %q, want go-bayes", loaded.Metadata.Framework)
	}
	if loaded.Metadata.Description != "unit test snapshot" {
		t.Errorf("description = %q, want the saved text", loaded.Metadata.Description)
	}
	if loaded.Config != smallConfig() {
		t.Errorf("config = %+v, want %+v", loaded.Config, smallConfig())
	}
}

func TestApplyModeMismatch(t *testing.T) {
	cfg := smallConfig()
	dropout, err := model.New(model.Dropout, cfg, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("building dropout model: %v", err)
	}
	variational, err := model.New(model.Variational, cfg, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("building variational model: %v", err)
	}

	if err := FromModel(dropout).Apply(variational); err == nil {
		t.Error("expected mode mismatch error")
	}
}

func TestApplyShapeMismatch(t *testing.T) {
	cfg := smallConfig()
	m, err := model.New(model.Dropout, cfg, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	c := FromModel(m)

	wider := cfg
	wider.NumHidden = cfg.NumHidden + 1
	target, err := model.New(model.Dropout, wider, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("building wider model: %v", err)
	}
	if err := c.Apply(target); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestApplyCorruptWeightName(t *testing.T) {
	m, err := model.New(model.Dropout, smallConfig(), rand.New(rand.NewSource(8)))
	if err != nil {
		t.Fatalf("building model: %v", err)
	}
	c := FromModel(m)
	c.Weights[0].Name = "bogus"
	if err := c.Apply(m); err == nil {
		t.Error("expected weight name mismatch error")
	}
}
