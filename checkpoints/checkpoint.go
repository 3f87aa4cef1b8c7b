// Package checkpoints serializes trained model parameters to JSON so a
// finished experiment can be reloaded without retraining. The trainer
// itself never writes checkpoints; saving happens once, after the run.
package checkpoints

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-bayes/model"
)

// WeightTensor is one named parameter matrix with its data flattened
// row-major.
type WeightTensor struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Metadata describes where a checkpoint came from.
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is a complete snapshot of a trained model.
type Checkpoint struct {
	Mode     string         `json:"mode"`
	Config   model.Config   `json:"config"`
	Weights  []WeightTensor `json:"weights"`
	Metadata Metadata       `json:"metadata"`
}

// FromModel snapshots the model's current parameters.
func FromModel(m model.Model) *Checkpoint {
	params := m.Params()
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		rows, cols := p.Value.Dims()
		data := make([]float64, rows*cols)
		copy(data, p.Value.RawMatrix().Data)
		weights[i] = WeightTensor{Name: p.Name, Rows: rows, Cols: cols, Data: data}
	}
	return &Checkpoint{
		Mode:    m.Mode().String(),
		Config:  m.Config(),
		Weights: weights,
		Metadata: Metadata{
			Version:   "1.0.0",
			Framework: "go-bayes",
			CreatedAt: time.Now(),
		},
	}
}

// Apply loads the checkpointed weights into m, validating the mode and
// every parameter's name and shape.
func (c *Checkpoint) Apply(m model.Model) error {
	if c.Mode != m.Mode().String() {
		return errors.Errorf("checkpoint mode %q does not match model mode %q", c.Mode, m.Mode())
	}
	params := m.Params()
	if len(params) != len(c.Weights) {
		return errors.Errorf("checkpoint has %d weight tensors, model has %d parameters", len(c.Weights), len(params))
	}
	for i, w := range c.Weights {
		p := params[i]
		if w.Name != p.Name {
			return errors.Errorf("weight %d is %q, model expects %q", i, w.Name, p.Name)
		}
		rows, cols := p.Value.Dims()
		if w.Rows != rows || w.Cols != cols {
			return errors.Errorf("weight %q shape (%d,%d) does not match model shape (%d,%d)", w.Name, w.Rows, w.Cols, rows, cols)
		}
		if len(w.Data) != rows*cols {
			return errors.Errorf("weight %q has %d values, want %d", w.Name, len(w.Data), rows*cols)
		}
		p.Value.Copy(mat.NewDense(rows, cols, w.Data))
	}
	return nil
}

// Save writes the checkpoint as indented JSON.
func Save(path string, c *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encoding checkpoint")
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint file")
	}
	defer f.Close()

	var c Checkpoint
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.Wrap(err, "decoding checkpoint")
	}
	return &c, nil
}
