// Package trainlog builds the scripted status lines of a simulated LoRA
// fine-tuning run. The structure is fixed (preamble, per-step train lines,
// per-epoch eval lines, postamble); only the loss drops are random.
package trainlog

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/animus-labs/synthlab/internal/domain"
)

// Rand is the random source for loss drops. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type Options struct {
	Epochs        int
	StepsPerEpoch int

	InitialLoss float64
	LossFloor   float64
	MinDrop     float64
	MaxDrop     float64
	EvalOffset  float64

	BaseLR  float64
	LRDecay float64

	Node         string
	BaseModel    string
	LoRARank     int
	LoRAAlpha    int
	LoRADropout  float64
	DatasetLines int
	OutputModel  string

	Rand Rand
}

func DefaultOptions() Options {
	return Options{
		Epochs:        3,
		StepsPerEpoch: 42,
		InitialLoss:   2.45,
		LossFloor:     0.08,
		MinDrop:       0.005,
		MaxDrop:       0.045,
		EvalOffset:    0.05,
		BaseLR:        2e-4,
		LRDecay:       0.995,
		Node:          "gpu-node-01 (1x A100 80GB)",
		BaseModel:     "mistralai/Mistral-7B-Instruct-v0.2",
		LoRARank:      64,
		LoRAAlpha:     16,
		LoRADropout:   0.1,
		OutputModel:   "service-advisor-7b-q4_k_m.gguf",
	}
}

// withDefaults fills zero-valued fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Epochs <= 0 {
		o.Epochs = d.Epochs
	}
	if o.StepsPerEpoch <= 0 {
		o.StepsPerEpoch = d.StepsPerEpoch
	}
	if o.InitialLoss <= 0 {
		o.InitialLoss = d.InitialLoss
	}
	if o.LossFloor <= 0 {
		o.LossFloor = d.LossFloor
	}
	if o.MaxDrop <= 0 {
		o.MinDrop, o.MaxDrop = d.MinDrop, d.MaxDrop
	}
	if o.MinDrop < 0 || o.MinDrop > o.MaxDrop {
		o.MinDrop = 0
	}
	if o.EvalOffset == 0 {
		o.EvalOffset = d.EvalOffset
	}
	if o.BaseLR <= 0 {
		o.BaseLR = d.BaseLR
	}
	if o.LRDecay <= 0 || o.LRDecay > 1 {
		o.LRDecay = d.LRDecay
	}
	if o.Node == "" {
		o.Node = d.Node
	}
	if o.BaseModel == "" {
		o.BaseModel = d.BaseModel
	}
	if o.LoRARank <= 0 {
		o.LoRARank = d.LoRARank
	}
	if o.LoRAAlpha <= 0 {
		o.LoRAAlpha = d.LoRAAlpha
	}
	if o.LoRADropout <= 0 {
		o.LoRADropout = d.LoRADropout
	}
	if o.OutputModel == "" {
		o.OutputModel = d.OutputModel
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// TotalLines is the number of lines Build produces for opts.
func TotalLines(opts Options) int {
	opts = opts.withDefaults()
	return len(preamble(opts)) + opts.Epochs*(opts.StepsPerEpoch+1) + 5
}

// Build returns the ordered script for one run. Seq is the 0-based position.
func Build(opts Options) []domain.LogLine {
	opts = opts.withDefaults()

	lines := make([]domain.LogLine, 0, TotalLines(opts))
	add := func(kind domain.LogKind, text, loss string) {
		lines = append(lines, domain.LogLine{Seq: len(lines), Kind: kind, Text: text, Loss: loss})
	}

	for _, text := range preamble(opts) {
		add(domain.LogInfo, text, "")
	}

	loss := opts.InitialLoss
	lastLoss := FormatLoss(loss)
	globalStep := 0
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		for step := 1; step <= opts.StepsPerEpoch; step++ {
			drop := opts.MinDrop + opts.Rand.Float64()*(opts.MaxDrop-opts.MinDrop)
			loss = math.Max(opts.LossFloor, loss-drop)
			lr := opts.BaseLR * math.Pow(opts.LRDecay, float64(globalStep))
			lastLoss = FormatLoss(loss)
			add(domain.LogTrain,
				fmt.Sprintf("epoch %d/%d step %d/%d loss=%s lr=%.2e", epoch, opts.Epochs, step, opts.StepsPerEpoch, lastLoss, lr),
				lastLoss)
			globalStep++
		}
		add(domain.LogEval,
			fmt.Sprintf("epoch %d/%d eval_loss=%s", epoch, opts.Epochs, FormatLoss(loss+opts.EvalOffset)),
			"")
	}

	add(domain.LogInfo, fmt.Sprintf("Training finished after %d steps", globalStep), "")
	add(domain.LogSuccess, "Final loss: "+lastLoss, lastLoss)
	add(domain.LogInfo, "Merging LoRA adapters into base model weights", "")
	add(domain.LogInfo, "Exporting merged model to "+opts.OutputModel, "")
	add(domain.LogSuccess, "Model ready for deployment", "")
	return lines
}

// FormatLoss renders a loss value with the fixed 4-decimal rule.
func FormatLoss(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func preamble(opts Options) []string {
	dataset := "Dataset: service ticket instructions (JSONL)"
	if opts.DatasetLines > 0 {
		dataset = fmt.Sprintf("Dataset: %d service ticket instructions (JSONL)", opts.DatasetLines)
	}
	return []string{
		"Connecting to " + opts.Node,
		"Loading base model " + opts.BaseModel,
		"Using 4-bit quantization (QLoRA, nf4, double quant)",
		fmt.Sprintf("LoRA config: r=%d alpha=%d dropout=%.2f", opts.LoRARank, opts.LoRAAlpha, opts.LoRADropout),
		dataset,
		fmt.Sprintf("Schedule: %d epochs x %d steps, lr=%.0e", opts.Epochs, opts.StepsPerEpoch, opts.BaseLR),
	}
}
