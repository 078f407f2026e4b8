package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

type fetchedImage struct {
	name        string
	contentType string
	data        []byte
}

func (r *repo) CreateFromURL(ctx context.Context, cmd URLCommand) (*Job, error) {
	if strings.TrimSpace(cmd.Instruction) == "" {
		return nil, ErrInvalidInstruction
	}

	img, err := r.fetchImage(ctx, cmd.ImageURL)
	if err != nil {
		return nil, err
	}

	return r.Create(ctx, CreateCommand{
		Data:        img.data,
		Filename:    img.name,
		ContentType: img.contentType,
		Instruction: cmd.Instruction,
		Template:    cmd.Template,
	})
}

// fetchImage downloads an image over HTTP(S). The response must declare an
// image content type and fit within the upload limit.
func (r *repo) fetchImage(ctx context.Context, raw string) (*fetchedImage, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: unsupported url %q", ErrInvalidImage, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := r.fetch.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidImage, resp.Header.Get("Content-Type"))
	}

	if r.maxUploadSize > 0 && resp.ContentLength > r.maxUploadSize {
		return nil, tooLarge(r.maxUploadSize)
	}

	body := io.Reader(resp.Body)
	if r.maxUploadSize > 0 {
		body = io.LimitReader(resp.Body, r.maxUploadSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out", ErrFetch)
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if r.maxUploadSize > 0 && int64(len(data)) > r.maxUploadSize {
		return nil, tooLarge(r.maxUploadSize)
	}

	return &fetchedImage{
		name:        r.imageName(u.Path, mediaType),
		contentType: mediaType,
		data:        data,
	}, nil
}

// imageName keeps the URL's filename when its extension is allowed and
// otherwise derives one from the media type.
func (r *repo) imageName(urlPath, mediaType string) string {
	base := path.Base(urlPath)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if slices.Contains(r.extensions, ext) {
		return base
	}

	exts, _ := mime.ExtensionsByType(mediaType)
	for _, e := range exts {
		if e = strings.TrimPrefix(e, "."); slices.Contains(r.extensions, e) {
			return "image." + e
		}
	}
	return "image"
}
