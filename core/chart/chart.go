// Package chart redraws a PNG line chart of the GSR series in the background.
package chart

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type Config struct {
	Path   string
	Width  int
	Height int
}

// Renderer draws the most recent series it was given. Intermediate updates
// that arrive while a render is in progress are discarded.
type Renderer struct {
	cfg     Config
	updates chan []float64
	logger  *slog.Logger
	renders int
}

func NewRenderer(cfg Config, logger *slog.Logger) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		cfg:     cfg,
		updates: make(chan []float64, 1),
		logger:  logger.With("component", "chart"),
	}
}

// Update replaces any pending series with series. It never blocks.
func (r *Renderer) Update(series []float64) {
	series = append([]float64(nil), series...)
	for {
		select {
		case r.updates <- series:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// Run renders each update until ctx is done, then renders whatever is still
// pending so the file reflects the final series.
func (r *Renderer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			select {
			case series := <-r.updates:
				r.render(series)
			default:
			}
			return nil
		case series := <-r.updates:
			r.render(series)
		}
	}
}

// Renders returns how many charts were written. Not safe to call while Run
// is active.
func (r *Renderer) Renders() int { return r.renders }

func (r *Renderer) render(series []float64) {
	if err := Render(r.cfg, series); err != nil {
		r.logger.Warn("chart render failed", "path", r.cfg.Path, "error", err)
		return
	}
	r.renders++
}

// Render writes a dotted line chart of series to cfg.Path.
func Render(cfg Config, series []float64) error {
	p := plot.New()
	p.Title.Text = "Skin conductance"
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "GSR"

	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		pts[i].X = float64(i)
		pts[i].Y = v
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build line: %w", err)
	}
	line.LineStyle.Width = vg.Points(1)
	line.LineStyle.Dashes = []vg.Length{vg.Points(1), vg.Points(3)}
	p.Add(line)

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return err
	}
	tmp := cfg.Path + ".tmp.png"
	if err := p.Save(vg.Points(float64(cfg.Width)), vg.Points(float64(cfg.Height)), tmp); err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	return os.Rename(tmp, cfg.Path)
}
