package static

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/zj793039327/jBrowserDriver/pkg/models"
)

const (
	blankURL     = "about:blank"
	maxBodyBytes = 16 << 20
)

// document is one history entry.
type document struct {
	url    string
	status int
	raw    string
	dom    *goquery.Document

	// created on first script evaluation
	host *scriptHost
}

func parseDocument(url string, status int, body []byte) *document {
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		dom, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return &document{url: url, status: status, raw: string(body), dom: dom}
}

func blankDocument() *document {
	return parseDocument(blankURL, 0, nil)
}

// fetchResult is what a fetch goroutine hands back to the engine goroutine.
type fetchResult struct {
	url    string
	status int
	body   []byte
	// saved is set when the response went to disk instead of the window.
	saved string
	// truncated is set when the body exceeded the fetch limit.
	truncated bool
	err       error
}

type fetchRequest struct {
	client    *http.Client
	url       string
	userAgent string
	dirs      models.Dirs
	// limit caps the bytes kept from a body; zero means maxBodyBytes.
	limit int64
}

func fetch(ctx context.Context, r fetchRequest) fetchResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fetchResult{err: fmt.Errorf("failed to build request: %w", err)}
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fetchResult{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	res := fetchResult{url: resp.Request.URL.String(), status: resp.StatusCode}
	limit := r.limit
	if limit <= 0 {
		limit = maxBodyBytes
	}

	if dir, name, ok := downloadTarget(resp, r.dirs); ok {
		saved, truncated, err := saveResponse(dir, name, resp.Body, limit)
		if err != nil {
			res.err = fmt.Errorf("failed to save download: %w", err)
			return res
		}
		res.saved, res.truncated = saved, truncated
		return res
	}

	// one byte past the limit tells a full body from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		res.err = fmt.Errorf("failed to read body: %w", err)
		return res
	}
	if int64(len(body)) > limit {
		body, res.truncated = body[:limit], true
	}
	res.body = body
	return res
}

// downloadTarget decides whether resp is a download and where it goes:
// attachments by Content-Disposition, media by Content-Type.
func downloadTarget(resp *http.Response, dirs models.Dirs) (dir, name string, ok bool) {
	if disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && disposition == "attachment" {
		if dirs.Attachments == "" {
			return "", "", false
		}
		return dirs.Attachments, fileName(params["filename"], resp), true
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	for _, prefix := range []string{"image/", "audio/", "video/"} {
		if strings.HasPrefix(mediaType, prefix) {
			if dirs.Media == "" {
				return "", "", false
			}
			return dirs.Media, fileName("", resp), true
		}
	}
	return "", "", false
}

func fileName(suggested string, resp *http.Response) string {
	name := filepath.Base(filepath.Clean("/" + suggested))
	if name == "/" || name == "." {
		name = path.Base(resp.Request.URL.Path)
	}
	if name == "/" || name == "." || name == "" {
		name = uuid.NewString()
	}
	return name
}

func saveResponse(dir, name string, body io.Reader, limit int64) (string, bool, error) {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(dir, uuid.NewString()[:8]+"-"+name)
	}
	out, err := os.Create(target)
	if err != nil {
		return "", false, err
	}
	if _, err := io.Copy(out, io.LimitReader(body, limit)); err != nil {
		out.Close()
		return "", false, err
	}
	n, _ := io.ReadFull(body, make([]byte, 1))
	return target, n > 0, out.Close()
}
