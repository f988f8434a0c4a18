package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/paragon/internal/scanning"
)

// maxUploadSize bounds uploads; high-resolution phone photos can be large
const maxUploadSize = int64(50 << 20)

// maxReceiptBody bounds the JSON body of a save request
const maxReceiptBody = int64(1 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleServiceError maps service errors to status codes. Unexpected errors
// are logged and reported without detail.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scanning.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "Receipt failed validation",
			"violations": verr.Violations,
		})
	case errors.Is(err, scanning.ErrBadInput), errors.Is(err, ErrNotExtracted):
		writeError(w, rootMessage(err), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		writeError(w, "Receipt not found", http.StatusNotFound)
	case errors.Is(err, ErrReceiptExists):
		writeError(w, ErrReceiptExists.Error(), http.StatusConflict)
	case errors.Is(err, ErrFileExists):
		writeError(w, ErrFileExists.Error(), http.StatusConflict)
	default:
		slog.Error("Error handling request",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// rootMessage returns the message of the innermost user-facing error
func rootMessage(err error) string {
	var ierr *scanning.InputError
	if errors.As(err, &ierr) {
		return ierr.Reason
	}
	if errors.Is(err, ErrNotExtracted) {
		return ErrNotExtracted.Error()
	}
	return err.Error()
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleListReceipts returns a page of stored receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	receipts, err := s.service.ListReceipts(limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := scanning.ResolveContentType(header.Filename, header.Header.Get("Content-Type"))
	promptVersion := r.FormValue("prompt_version")

	result, err := s.service.Upload(r.Context(), header.Filename, data, contentType, promptVersion)
	if err != nil {
		slog.Warn("Error processing receipt", "filename", header.Filename, "error", err)
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleGetReceipt returns the metadata of a stored receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	meta, err := s.service.GetReceipt(r.PathValue("hash"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleGetImage returns the original or normalized image
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetImage(r.PathValue("hash"), r.URL.Query().Get("variant"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleGetOCRText returns the raw extraction text
func (s *Server) handleGetOCRText(w http.ResponseWriter, r *http.Request) {
	text, err := s.service.GetOCRText(r.PathValue("hash"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

// handleSaveReceipt persists a confirmed receipt
func (s *Server) handleSaveReceipt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReceiptBody))
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := scanning.DecodeReceipt(body)
	if err != nil {
		var verr *scanning.ValidationError
		if !errors.As(err, &verr) {
			writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		handleServiceError(w, r, err)
		return
	}

	result, err := s.service.SaveReceipt(r.Context(), r.PathValue("hash"), receipt)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleExport streams the spreadsheet of saved receipts
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), &buf); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", XLSXMimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExportFilename+`"`)
	w.Write(buf.Bytes())
}
