// streamnet-eval replays a CSV file through a fresh online model one row at
// a time, predicting before learning, and reports the running metrics. The
// fitted state can be saved to a snapshot store afterwards.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strconv"

	"streamnet/metrics"
	"streamnet/nn"
	"streamnet/online"
	"streamnet/preprocess"
	"streamnet/store"
)

func main() {
	input := flag.String("input", "", "CSV file with a header row")
	kind := flag.String("kind", online.KindClassifier, "classifier, regressor or autoencoder")
	labelCol := flag.String("label", "label", "label/target column (ignored for autoencoder)")
	hidden := flag.Int("hidden", 16, "hidden layer width")
	outputs := flag.Int("outputs", 8, "classifier output width")
	lr := flag.Float64("lr", 0.01, "learning rate")
	seed := flag.Int64("seed", online.DefaultSeed, "weight init seed")
	scale := flag.Bool("scale", true, "standardize features with running statistics")
	every := flag.Int("every", 1000, "report interval in rows")
	dbPath := flag.String("db", "", "save the fitted model into this snapshot store")
	name := flag.String("name", "eval", "snapshot name when saving")
	flag.Parse()

	if *input == "" {
		log.Fatal("input is required")
	}

	file, err := os.Open(*input)
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer file.Close()

	eval := &evaluator{
		kind:    *kind,
		scaler:  preprocess.NewStandardScaler(),
		scale:   *scale,
		acc:     metrics.NewAccuracy(),
		mae:     metrics.NewMAE(),
		rmse:    metrics.NewRMSE(),
		hidden:  *hidden,
		outputs: *outputs,
		cfg: online.Config{
			Optimizer: nn.SGD(nn.SGDConfig{LR: *lr}),
			Seed:      *seed,
		},
	}
	eval.init()

	if err := replay(file, *labelCol, eval, *every); err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	eval.report(os.Stdout)

	if *dbPath != "" {
		if err := save(eval, *dbPath, *name); err != nil {
			log.Fatalf("failed to save snapshot: %v", err)
		}
		fmt.Printf("model saved to %s as %q\n", *dbPath, *name)
	}
}

type evaluator struct {
	kind    string
	hidden  int
	outputs int
	cfg     online.Config

	clf *online.Classifier
	rgr *online.Regressor
	ae  *online.Autoencoder

	scale  bool
	scaler *preprocess.StandardScaler

	acc      *metrics.Accuracy
	mae      *metrics.MAE
	rmse     *metrics.RMSE
	scoreSum float64
	rows     int
}

func (e *evaluator) init() {
	hidden, outputs := e.hidden, e.outputs
	switch e.kind {
	case online.KindClassifier:
		e.clf = online.NewClassifier(func(n int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(n, rng).Dense(hidden, nn.ReLU()).Dense(outputs, nn.Softmax())
			return net, net.Err()
		}, e.cfg)
	case online.KindRegressor:
		e.rgr = online.NewRegressor(func(n int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(n, rng).Dense(hidden, nn.ReLU()).Dense(1, nn.Identity())
			return net, net.Err()
		}, e.cfg)
	case online.KindAutoencoder:
		e.ae = online.NewAutoencoder(func(n int, rng *rand.Rand) (*nn.Network, error) {
			net := nn.NewNetwork(n, rng).Dense(hidden, nn.Tanh()).Dense(n, nn.Identity())
			return net, net.Err()
		}, e.cfg)
	default:
		log.Fatalf("unknown kind %q", e.kind)
	}
}

// step runs one prequential round: predict, update the metric, learn.
func (e *evaluator) step(x online.Example, label string) error {
	if e.scale {
		e.scaler.LearnOne(x)
		x = e.scaler.TransformOne(x)
	}

	switch e.kind {
	case online.KindClassifier:
		if pred, err := e.clf.PredictOne(x); err == nil {
			e.acc.Update(label, pred)
		}
		if _, err := e.clf.LearnOne(x, label); err != nil {
			return err
		}
	case online.KindRegressor:
		y, err := strconv.ParseFloat(label, 64)
		if err != nil {
			return fmt.Errorf("target %q: %w", label, err)
		}
		if pred, err := e.rgr.PredictOne(x); err == nil {
			e.mae.Update(y, pred)
			e.rmse.Update(y, pred)
		}
		if _, err := e.rgr.LearnOne(x, y); err != nil {
			return err
		}
	default:
		if score, err := e.ae.ScoreOne(x); err == nil {
			e.scoreSum += score
		}
		if _, err := e.ae.LearnOne(x); err != nil {
			return err
		}
	}
	e.rows++
	return nil
}

func (e *evaluator) report(w io.Writer) {
	switch e.kind {
	case online.KindClassifier:
		fmt.Fprintf(w, "rows=%d accuracy=%.4f\n", e.rows, e.acc.Get())
	case online.KindRegressor:
		fmt.Fprintf(w, "rows=%d mae=%.4f rmse=%.4f\n", e.rows, e.mae.Get(), e.rmse.Get())
	default:
		mean := 0.0
		if e.rows > 1 {
			// The first row scores before anything was learned.
			mean = e.scoreSum / float64(e.rows-1)
		}
		fmt.Fprintf(w, "rows=%d mean_score=%.6f\n", e.rows, mean)
	}
}

// replay streams the CSV through the evaluator row by row.
func replay(r io.Reader, labelCol string, eval *evaluator, every int) error {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	labelIdx := -1
	for i, col := range header {
		if col == labelCol {
			labelIdx = i
		}
	}
	if labelIdx < 0 && eval.kind != online.KindAutoencoder {
		return fmt.Errorf("label column %q not found", labelCol)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("row %d: %w", eval.rows+1, err)
		}

		x := make(online.Example, len(header))
		label := ""
		for i, field := range record {
			if i == labelIdx {
				label = field
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", eval.rows+1, header[i], err)
			}
			x[header[i]] = v
		}

		if err := eval.step(x, label); err != nil {
			return fmt.Errorf("row %d: %w", eval.rows+1, err)
		}
		if every > 0 && eval.rows%every == 0 {
			eval.report(os.Stderr)
		}
	}
}

func save(eval *evaluator, dbPath, name string) error {
	var (
		snap *online.Snapshot
		err  error
	)
	switch eval.kind {
	case online.KindClassifier:
		snap, err = eval.clf.Snapshot()
	case online.KindRegressor:
		snap, err = eval.rgr.Snapshot()
	default:
		snap, err = eval.ae.Snapshot()
	}
	if err != nil {
		return err
	}

	snaps, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer snaps.Close()
	return snaps.Save(name, snap)
}
