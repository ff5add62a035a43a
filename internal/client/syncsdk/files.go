package syncsdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/openmined/peersync/internal/fingerprint"
	"github.com/openmined/peersync/internal/syncmsg"
	"github.com/openmined/peersync/internal/utils"
)

const (
	v1Files = "/api/v1/files"

	compressionNone = "none"
	compressionZstd = "zstd"

	// cap on error bodies read from a download response
	maxErrorBody = 64 << 10
)

// Upload sends one local file. The coordinator fingerprints what it stored
// and returns the resulting record.
func (s *SyncSDK) Upload(ctx context.Context, params *UploadParams) (*syncmsg.FileRecord, error) {
	if !utils.FileExists(params.FilePath) {
		return nil, ErrFileNotFound
	}

	file, err := os.Open(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("sdk: upload: %w", err)
	}
	defer file.Close()

	var body io.Reader = file
	compression := compressionNone
	if params.Compress {
		pr, pw := io.Pipe()
		defer pr.Close()
		go compressTo(pw, file)
		body = pr
		compression = compressionZstd
	}

	modTime := params.ModifiedTime
	if modTime.IsZero() {
		modTime = time.Now()
	}

	var rec syncmsg.FileRecord
	resp, err := s.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetFormData(map[string]string{
			"path":         params.Path,
			"peerId":       s.peerID,
			"modifiedTime": modTime.UTC().Format(time.RFC3339Nano),
			"compression":  compression,
		}).
		SetFileReader("file", filepath.Base(params.FilePath), body).
		SetSuccessResult(&rec).
		Put(v1Files)

	if err := handleAPIError(resp, err, "file upload"); err != nil {
		return nil, err
	}

	slog.Debug("sdk upload", "path", rec.Path, "size", humanize.IBytes(uint64(rec.Size)), "compression", compression)
	return &rec, nil
}

func compressTo(pw *io.PipeWriter, src io.Reader) {
	enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		pw.CloseWithError(err)
		return
	}
	_, err = io.Copy(enc, src)
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	pw.CloseWithError(err)
}

// Download streams the stored content of path into w.
func (s *SyncSDK) Download(ctx context.Context, path string, w io.Writer) (*DownloadResult, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(filesPath(path))
	if err != nil {
		return nil, fmt.Errorf("http request error: file download %w", err)
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{}
		if err := jsonUnmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr = statusError(resp.GetStatusCode(), string(raw))
		}
		apiErr.Status = resp.GetStatusCode()
		if apiErr.Code == CodeFileNotFound {
			return nil, fmt.Errorf("file download %w: %w", ErrFileNotFound, apiErr)
		}
		return nil, fmt.Errorf("file download %w", apiErr)
	}

	hasher := fingerprint.NewHasher(w)
	if _, err := io.Copy(hasher, resp.Body); err != nil {
		return nil, fmt.Errorf("sdk: download %s: %w", path, err)
	}

	return &DownloadResult{
		Checksum: resp.GetHeader(HeaderSyncChecksum),
		Computed: hasher.Checksum(),
		Size:     hasher.Size(),
	}, nil
}

// Delete removes path on the coordinator. Deleting an unknown path succeeds.
func (s *SyncSDK) Delete(ctx context.Context, path string) (*DeleteResponse, error) {
	var apiResp DeleteResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("peerId", s.peerID).
		SetSuccessResult(&apiResp).
		Delete(filesPath(path))

	if err := handleAPIError(resp, err, "file delete"); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

func filesPath(rel string) string {
	parts := strings.Split(utils.NormalizePath(rel), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return v1Files + "/" + strings.Join(parts, "/")
}
