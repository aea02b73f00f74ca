package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadless 检测本机能否启动 headless Chrome，结果只探测一次。
func EnsureHeadless(ctx context.Context) error {
	headlessOnce.Do(func() {
		probe, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		taskCtx, cancelTask := chromedp.NewContext(probe)
		defer cancelTask()
		if err := chromedp.Run(taskCtx); err != nil {
			headlessErr = fmt.Errorf("report: headless chrome unavailable: %w", err)
		}
	})
	return headlessErr
}

// Snapshot 用 headless Chrome 打开 HTML 并截取整页 PNG。超时由 ctx 控制。
func Snapshot(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if len(html) == 0 {
		return nil, fmt.Errorf("report: empty html")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.NoSandbox,
		)...)
	defer cancelAlloc()
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("report: chrome snapshot: %w", err)
	}
	return buf, nil
}
