package filter

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// ImageInspector decides whether a link points at an image, by file
// extension, response headers, or the page's Open Graph metadata. Any
// failure along the way answers "not an image": a transient fetch
// error must never block a legitimate link.
type ImageInspector struct {
	client *http.Client
	logger *zap.Logger
}

func NewImageInspector(timeout time.Duration, logger *zap.Logger) *ImageInspector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ImageInspector{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (in *ImageInspector) IsImage(ctx context.Context, link string) bool {
	if hasImageExtension(link) {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return false
	}
	resp, err := in.client.Do(req)
	if err != nil {
		in.logger.Debug("image inspection fetch failed", zap.String("link", link), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if hasImageExtension(params["filename"]) {
				return true
			}
		}
	}
	if strings.HasPrefix(contentType, "text/html") {
		return pageIsImage(resp.Body)
	}
	return false
}

func hasImageExtension(link string) bool {
	if link == "" {
		return false
	}
	if idx := strings.IndexAny(link, "?#"); idx >= 0 {
		link = link[:idx]
	}
	return imageExtensions[strings.ToLower(path.Ext(link))]
}

// pageIsImage walks the document head for Open Graph and Twitter card
// metadata marking the page as predominantly an image. Parse errors
// answer false.
func pageIsImage(r io.Reader) bool {
	doc, err := html.Parse(r)
	if err != nil {
		return false
	}

	hasImageMeta := false
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property", "name":
					property = strings.ToLower(attr.Val)
				case "content":
					content = strings.ToLower(attr.Val)
				}
			}
			switch property {
			case "og:type":
				if strings.Contains(content, "image") || strings.Contains(content, "photo") {
					return true
				}
			case "og:image", "twitter:image":
				if content != "" {
					hasImageMeta = true
				}
			case "keywords":
				if strings.Contains(content, "image hosting") || strings.Contains(content, "photo sharing") {
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if walk(doc) {
		return true
	}
	return hasImageMeta
}
