package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/haulbit/haulbit/pkg/protocol"
)

// Chunk is one unit of transfer handed to a Sender.
type Chunk struct {
	SessionID   string
	Index       int
	TotalChunks int
	FileName    string
	Data        []byte
}

// Sender submits one chunk to the server. Implementations differ only in
// wire encoding; the pump is parametric over this capability.
type Sender interface {
	Send(ctx context.Context, baseURL string, chunk Chunk) error
}

// NewHTTPClient builds the shared HTTP client. Timeout applies per chunk
// request; http3 swaps in a QUIC round-tripper.
func NewHTTPClient(timeout time.Duration, useHTTP3 bool) *http.Client {
	c := &http.Client{Timeout: timeout}
	if useHTTP3 {
		c.Transport = &http3.Transport{}
	}
	return c
}

// MultipartSender submits chunks as multipart/form-data.
type MultipartSender struct {
	Client *http.Client
}

func (s *MultipartSender) Send(ctx context.Context, baseURL string, chunk Chunk) error {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", "blob")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return err
	}
	fields := map[string]string{
		"sessionId":   chunk.SessionID,
		"chunkIndex":  strconv.Itoa(chunk.Index),
		"totalChunks": strconv.Itoa(chunk.TotalChunks),
		"fileName":    chunk.FileName,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/upload", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return do(s.Client, req)
}

// BinarySender submits chunks as a raw octet-stream body with metadata in
// headers. Cheaper than multipart for large chunks.
type BinarySender struct {
	Client *http.Client
}

func (s *BinarySender) Send(ctx context.Context, baseURL string, chunk Chunk) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/upload/binary", bytes.NewReader(chunk.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(protocol.HeaderFileID, chunk.SessionID)
	req.Header.Set(protocol.HeaderChunkNumber, strconv.Itoa(chunk.Index))
	req.Header.Set(protocol.HeaderTotalChunks, strconv.Itoa(chunk.TotalChunks))
	if chunk.FileName != "" {
		req.Header.Set(protocol.HeaderFileName, chunk.FileName)
	}
	return do(s.Client, req)
}

// do executes req and converts non-2xx responses into *HTTPError with the
// envelope message when present.
func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return httpErrorFrom(resp)
}

func httpErrorFrom(resp *http.Response) error {
	he := &HTTPError{StatusCode: resp.StatusCode}
	var envelope protocol.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil {
		he.Message = envelope.Message
	}
	return he
}

// API performs the non-chunk calls of the upload surface: the resume
// handshake, status queries, finalize and cancel.
type API struct {
	BaseURL string
	// Client handles status queries and cancels.
	Client *http.Client
	// FinalizeClient has no timeout: finalize is bounded by server disk
	// I/O, not the network.
	FinalizeClient *http.Client
}

// NewAPI builds an API over baseURL.
func NewAPI(baseURL string, timeout time.Duration, useHTTP3 bool) *API {
	finalize := &http.Client{}
	if useHTTP3 {
		finalize.Transport = &http3.Transport{}
	}
	return &API{
		BaseURL:        baseURL,
		Client:         NewHTTPClient(timeout, useHTTP3),
		FinalizeClient: finalize,
	}
}

// Resume performs the resume handshake and returns the server's view of the
// session.
func (a *API) Resume(ctx context.Context, sessionID string, totalChunks int, fileName string, fileSize, chunkSize int64) (protocol.Resume, error) {
	q := url.Values{}
	q.Set("totalChunks", strconv.Itoa(totalChunks))
	if fileName != "" {
		q.Set("fileName", fileName)
	}
	if fileSize > 0 {
		q.Set("fileSize", strconv.FormatInt(fileSize, 10))
	}
	if chunkSize > 0 {
		q.Set("chunkSize", strconv.FormatInt(chunkSize, 10))
	}
	target := fmt.Sprintf("%s/upload/%s/resume?%s", a.BaseURL, url.PathEscape(sessionID), q.Encode())

	var rec protocol.Resume
	err := a.doJSON(ctx, http.MethodPost, target, &rec)
	return rec, err
}

// Status fetches one session's snapshot.
func (a *API) Status(ctx context.Context, sessionID string) (protocol.Status, error) {
	var st protocol.Status
	err := a.doJSON(ctx, http.MethodGet, a.BaseURL+"/upload/"+url.PathEscape(sessionID), &st)
	return st, err
}

// All fetches every session snapshot.
func (a *API) All(ctx context.Context) ([]protocol.Status, error) {
	var out []protocol.Status
	err := a.doJSON(ctx, http.MethodGet, a.BaseURL+"/upload", &out)
	return out, err
}

// Resumable fetches the sessions that can still accept chunks.
func (a *API) Resumable(ctx context.Context) ([]protocol.Status, error) {
	var out []protocol.Status
	err := a.doJSON(ctx, http.MethodGet, a.BaseURL+"/upload/resumable", &out)
	return out, err
}

// Finalize asks the server to assemble the session.
func (a *API) Finalize(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/upload/"+url.PathEscape(sessionID)+"/complete", nil)
	if err != nil {
		return err
	}
	return do(a.FinalizeClient, req)
}

// Cancel deletes the session server-side.
func (a *API) Cancel(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.BaseURL+"/upload/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	return do(a.Client, req)
}

func (a *API) doJSON(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpErrorFrom(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
