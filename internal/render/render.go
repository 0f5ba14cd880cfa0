// Package render converts report HTML into PDF bytes through an external
// headless browser or rendering service.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var ErrRender = errors.New("pdf render failed")

type Renderer interface {
	Render(ctx context.Context, html []byte) ([]byte, error)
}

// ChromeRenderer prints HTML to PDF with a local headless Chrome. A browser
// process is started per render.
type ChromeRenderer struct {
	execPath string
}

func NewChromeRenderer(execPath string) *ChromeRenderer {
	return &ChromeRenderer{execPath: execPath}
}

func (c *ChromeRenderer) Render(ctx context.Context, html []byte) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, string(html)).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: chrome: %v", ErrRender, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: chrome returned an empty document", ErrRender)
	}
	return pdf, nil
}

// GotenbergRenderer posts the HTML to a Gotenberg-compatible service.
type GotenbergRenderer struct {
	endpoint   string
	httpClient *http.Client
}

func NewGotenbergRenderer(baseURL string, timeout time.Duration) *GotenbergRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GotenbergRenderer{
		endpoint:   strings.TrimRight(baseURL, "/") + "/forms/chromium/convert/html",
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *GotenbergRenderer) Render(ctx context.Context, html []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(html); err != nil {
		return nil, err
	}
	_ = mw.WriteField("printBackground", "true")
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer res.Body.Close()

	pdf, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRender, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: renderer returned status %d", ErrRender, res.StatusCode)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, fmt.Errorf("%w: response is not a PDF", ErrRender)
	}
	return pdf, nil
}
