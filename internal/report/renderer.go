package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stratlab/internal/logger"
)

// Options 控制报告输出。
type Options struct {
	Dir           string
	PNG           bool
	Width         int
	Height        int
	ChromeTimeout time.Duration
}

// Files 是落盘后的文件路径，未生成的为空。
type Files struct {
	HTML    string `json:"html"`
	PNG     string `json:"png,omitempty"`
	Summary string `json:"summary"`
}

// Renderer 按固定尺寸渲染并保存报告。
type Renderer struct {
	opts Options
}

func NewRenderer(o Options) *Renderer {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.ChromeTimeout <= 0 {
		o.ChromeTimeout = 30 * time.Second
	}
	return &Renderer{opts: o}
}

// HTML 渲染页面但不落盘。
func (r *Renderer) HTML(in Input) ([]byte, error) {
	return RenderHTML(in, r.opts.Width, r.opts.Height)
}

// Write 把 HTML、文字摘要以及（开启时）PNG 写到 <dir>/<id>.*。
// PNG 失败只记日志，不影响其余文件。
func (r *Renderer) Write(ctx context.Context, id string, in Input) (Files, error) {
	if id == "" {
		return Files{}, fmt.Errorf("report: id is required")
	}
	if r.opts.Dir == "" {
		return Files{}, fmt.Errorf("report: output dir is not configured")
	}
	html, err := r.HTML(in)
	if err != nil {
		return Files{}, err
	}
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("report: create dir: %w", err)
	}
	out := Files{
		HTML:    filepath.Join(r.opts.Dir, id+".html"),
		Summary: filepath.Join(r.opts.Dir, id+".txt"),
	}
	if err := os.WriteFile(out.HTML, html, 0o644); err != nil {
		return Files{}, fmt.Errorf("report: write html: %w", err)
	}
	if err := os.WriteFile(out.Summary, []byte(Summary(in.heading(), in.Result)), 0o644); err != nil {
		return Files{}, fmt.Errorf("report: write summary: %w", err)
	}
	if r.opts.PNG {
		snapCtx, cancel := context.WithTimeout(ctx, r.opts.ChromeTimeout)
		defer cancel()
		png, err := Snapshot(snapCtx, html, r.opts.Width, r.opts.Height)
		if err != nil {
			logger.Warnf("[report] %s: png snapshot skipped: %v", id, err)
		} else {
			path := filepath.Join(r.opts.Dir, id+".png")
			if err := os.WriteFile(path, png, 0o644); err != nil {
				logger.Warnf("[report] %s: write png: %v", id, err)
			} else {
				out.PNG = path
			}
		}
	}
	logger.Infof("[report] %s: written to %s", id, r.opts.Dir)
	return out, nil
}
