package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/results"
)

// ChunkSize is the size of every upload chunk except the last.
const ChunkSize = 1 << 20

var (
	ErrEmptyFile  = errors.New("file is empty")
	ErrNoUploadID = errors.New("upload finished without an id")
)

// Progress is called after every accepted chunk.
type Progress func(sent, total int64)

// Upload sends size bytes from r to the upload endpoint in ChunkSize chunks.
// The final response becomes an uploader result record. A failed chunk aborts
// the upload.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64, progress Progress) (results.Record, error) {
	if size <= 0 {
		return results.Record{}, ErrEmptyFile
	}
	target, err := c.endpoint("upload")
	if err != nil {
		return results.Record{}, err
	}

	chunks := (size + ChunkSize - 1) / ChunkSize
	buf := make([]byte, ChunkSize)
	var payload []byte
	for i := int64(0); i < chunks; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > size {
			end = size
		}
		n, err := io.ReadFull(r, buf[:end-start])
		if err != nil {
			return results.Record{}, fmt.Errorf("reading chunk %d of %s: %w", i, name, err)
		}
		headers := map[string]string{
			"Content-Type":  "application/octet-stream",
			"Content-Range": fmt.Sprintf("bytes %d-%d/%d", start, end-1, size),
			"X-filename":    encodeURIComponent(name),
			"X-last-chunk":  strconv.FormatBool(i == chunks-1),
		}
		payload, err = c.makeRequest(ctx, http.MethodPost, target, bytes.NewReader(buf[:n]), headers)
		if err != nil {
			c.logger.Warn("chunk rejected", zap.String("file", name), zap.Int64("chunk", i), zap.Error(err))
			return results.Record{}, fmt.Errorf("error uploading chunk: %w", err)
		}
		if progress != nil {
			progress(end, size)
		}
	}

	doc := gjson.ParseBytes(payload)
	id := text(doc.Get("id"))
	if id == "" {
		return results.Record{}, ErrNoUploadID
	}
	return results.Record{
		ID:         id,
		Link:       "none",
		Value:      name,
		From:       "uploader service",
		Info:       doc.Get("status").String() + " uploaded! the end service may still be processing the file.",
		Background: "has-background-success",
	}, nil
}

func text(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	}
	return ""
}

// encodeURIComponent escapes name the way browsers do for header values.
func encodeURIComponent(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}
