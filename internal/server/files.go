package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/transfer"
	"github.com/filedepot/filedepot/pkg/proto"
)

// handleFiles routes /api/files: init upload and listing.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.withMetrics(w, "initUpload", func(w http.ResponseWriter) {
			s.handleInitUpload(w, r)
		})
	case http.MethodGet:
		s.withMetrics(w, "listFiles", func(w http.ResponseWriter) {
			s.handleListFiles(w, r)
		})
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFileSubtree routes /api/files/{id}, /api/files/{id}/meta,
// /api/files/{id}/finalize, /api/files/{id}/share,
// /api/files/{id}/share/qr, and /api/files/{id}/chunks/{index}.
func (s *Server) handleFileSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		s.jsonError(w, "file id required", http.StatusBadRequest)
		return
	}
	fileID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.withMetrics(w, "download", func(w http.ResponseWriter) {
				s.handleDownload(w, r, fileID)
			})
		case http.MethodDelete:
			s.withMetrics(w, "deleteFile", func(w http.ResponseWriter) {
				s.handleDeleteFile(w, r, fileID)
			})
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "meta":
		if r.Method != http.MethodGet {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "fileInfo", func(w http.ResponseWriter) {
			s.handleFileInfo(w, r, fileID)
		})

	case len(parts) == 2 && parts[1] == "finalize":
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "finalizeUpload", func(w http.ResponseWriter) {
			s.handleFinalize(w, r, fileID)
		})

	case len(parts) == 2 && parts[1] == "share":
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "shareLink", func(w http.ResponseWriter) {
			s.handleShareLink(w, r, fileID)
		})

	case len(parts) == 3 && parts[1] == "share" && parts[2] == "qr":
		if r.Method != http.MethodGet {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.withMetrics(w, "shareQR", func(w http.ResponseWriter) {
			s.handleShareQR(w, r, fileID)
		})

	case len(parts) == 3 && parts[1] == "chunks":
		index, err := strconv.Atoi(parts[2])
		if err != nil {
			s.jsonError(w, "invalid chunk index", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodPut:
			s.withMetrics(w, "uploadChunk", func(w http.ResponseWriter) {
				s.handleUploadChunk(w, r, fileID, index)
			})
		case http.MethodGet:
			s.withMetrics(w, "downloadChunk", func(w http.ResponseWriter) {
				s.handleDownloadChunk(w, r, fileID, index)
			})
		default:
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	var req proto.InitUploadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	f, err := s.svc.InitUpload(r.Context(), bearerToken(r), transfer.InitUploadRequest{
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			s.audit.LogQuota(s.identify(r), req.TotalSize, "denied", req.Filename)
		}
		s.writeServiceError(w, err)
		return
	}
	s.audit.LogFileOp(f.OwnerID, "initUpload", f.ID, f.Filename, "allowed", "", remoteIP(r))
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ListFiles(r.Context(), bearerToken(r), r.URL.Query().Get("user"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request, fileID string, index int) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxChunkBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.jsonError(w, "chunk too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	present, err := s.svc.UploadChunk(r.Context(), bearerToken(r), fileID, index, data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proto.ChunkResponse{ChunksPresent: present})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request, fileID string) {
	if err := s.svc.FinalizeUpload(r.Context(), bearerToken(r), fileID); err != nil {
		s.auditFileOp(r, "finalizeUpload", fileID, "", err)
		s.writeServiceError(w, err)
		return
	}
	s.auditFileOp(r, "finalizeUpload", fileID, "", nil)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, fileID string) {
	result, err := s.svc.Download(r.Context(), fileID, bearerToken(r), r.URL.Query().Get("share"))
	if err != nil {
		s.auditFileOp(r, "download", fileID, "", err)
		s.writeServiceError(w, err)
		return
	}
	s.auditFileOp(r, "download", fileID, result.Filename, nil)
	s.writeFile(w, result)
}

// handleShared serves /api/shared/{link}: download through the external
// share form alone, no session involved.
func (s *Server) handleShared(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.withMetrics(w, "sharedDownload", func(w http.ResponseWriter) {
		link := strings.TrimPrefix(r.URL.Path, "/api/shared/")
		fileID, shareToken, err := proto.SplitShareLink(link)
		if err != nil {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := s.svc.Download(r.Context(), fileID, "", shareToken)
		if err != nil {
			if verdict, ok := auditResult(err); ok {
				s.audit.LogAuth("", "share_token", verdict, "shared download "+fileID, remoteIP(r))
			}
			s.writeServiceError(w, err)
			return
		}
		s.audit.LogFileOp("", "sharedDownload", fileID, result.Filename, "allowed", "", remoteIP(r))
		s.writeFile(w, result)
	})
}

func (s *Server) writeFile(w http.ResponseWriter, result *transfer.DownloadResult) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	_, _ = w.Write(result.Data)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request, fileID string) {
	f, err := s.svc.FileInfo(r.Context(), fileID, bearerToken(r), r.URL.Query().Get("share"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDownloadChunk(w http.ResponseWriter, r *http.Request, fileID string, index int) {
	data, err := s.svc.DownloadChunk(r.Context(), fileID, index, bearerToken(r), r.URL.Query().Get("share"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, fileID string) {
	if err := s.svc.Delete(r.Context(), bearerToken(r), fileID); err != nil {
		s.auditFileOp(r, "deleteFile", fileID, "", err)
		s.writeServiceError(w, err)
		return
	}
	s.auditFileOp(r, "deleteFile", fileID, "", nil)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleShareLink(w http.ResponseWriter, r *http.Request, fileID string) {
	token, err := s.svc.ShareLink(r.Context(), bearerToken(r), fileID)
	if err != nil {
		s.auditFileOp(r, "shareLink", fileID, "", err)
		s.writeServiceError(w, err)
		return
	}
	s.auditFileOp(r, "shareLink", fileID, "", nil)
	s.writeJSON(w, http.StatusOK, proto.ShareLinkResponse{
		Link: proto.ShareLink(fileID, token),
	})
}

// shareQRSize bounds the ?size= query of the QR endpoint. Outside the
// range the default is used rather than erroring; the image is cosmetic.
const (
	shareQRDefaultSize = 256
	shareQRMaxSize     = 1024
)

// handleShareQR generates the share link and renders the public
// download URL as a QR code PNG, returned inline as a data URL. The
// URL is built from the Host header, so it is only as public as the
// address the client dialed.
func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request, fileID string) {
	token, err := s.svc.ShareLink(r.Context(), bearerToken(r), fileID)
	if err != nil {
		s.auditFileOp(r, "shareLink", fileID, "", err)
		s.writeServiceError(w, err)
		return
	}
	s.auditFileOp(r, "shareLink", fileID, "", nil)

	size := shareQRDefaultSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= shareQRMaxSize {
			size = n
		}
	}

	link := proto.ShareLink(fileID, token)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/api/shared/%s", scheme, r.Host, link)

	qr, err := generateQRCodeDataURL(url, size)
	if err != nil {
		s.jsonError(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, proto.ShareLinkResponse{
		Link:   link,
		QRCode: qr,
	})
}

// generateQRCodeDataURL renders content as a QR code PNG data URL.
func generateQRCodeDataURL(content string, size int) (string, error) {
	if content == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	png, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return "", err
	}

	b64 := base64.StdEncoding.EncodeToString(png)
	return "data:image/png;base64," + b64, nil
}

// auditFileOp reports the outcome of a session-authorized file
// operation. Only access decisions become events; infrastructure
// errors and missing files do not.
func (s *Server) auditFileOp(r *http.Request, operation, fileID, fileName string, err error) {
	result, ok := auditResult(err)
	if !ok {
		return
	}
	details := ""
	if err != nil {
		details = err.Error()
	}
	s.audit.LogFileOp(s.identify(r), operation, fileID, fileName, result, details, remoteIP(r))
}
