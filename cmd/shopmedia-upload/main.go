// Command shopmedia-upload sends local image files to a running shopmedia
// server and prints the URLs it returns.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

type uploadResult struct {
	ImageURL  string            `json:"imageUrl"`
	ImageURLs []string          `json:"imageUrls"`
	Failures  []json.RawMessage `json:"failures"`
	Error     string            `json:"error"`
	Details   string            `json:"details"`
}

// Upload posts paths to baseURL. A single path goes to /api/upload, several
// go to /api/upload/multiple.
func Upload(ctx context.Context, client *http.Client, baseURL string, paths []string) (uploadResult, error) {
	if len(paths) == 0 {
		return uploadResult{}, errors.New("no files given")
	}

	route, field := "/api/upload", "image"
	if len(paths) > 1 {
		route, field = "/api/upload/multiple", "images"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, field, paths))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+route, pr)
	if err != nil {
		return uploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return uploadResult{}, fmt.Errorf("post %s: %w", route, err)
	}
	defer resp.Body.Close()

	var out uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadResult{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("upload failed with status %d: %s %s", resp.StatusCode, out.Error, out.Details)
	}
	return out, nil
}

func writeParts(mw *multipart.Writer, field string, paths []string) error {
	for _, p := range paths {
		if err := writePart(mw, field, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, field string, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(path)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func main() {
	server := flag.String("server", getenv("SHOPMEDIA_URL", "http://localhost:4000"), "base URL of the shopmedia server")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Parse()

	slog.SetDefault(slog.New(log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := Upload(ctx, http.DefaultClient, *server, flag.Args())
	if err != nil {
		slog.Error("Upload failed", "error", err)
		os.Exit(1)
	}

	if out.ImageURL != "" {
		fmt.Println(out.ImageURL)
	}
	for _, u := range out.ImageURLs {
		fmt.Println(u)
	}
	for _, f := range out.Failures {
		slog.Warn("File rejected", "failure", string(f))
	}
}
