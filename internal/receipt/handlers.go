package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-scanner/internal/imaging"
	"github.com/zombor/receipt-scanner/internal/ocr"
)

// maxUploadSize is large enough for high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// maxJSONSize bounds JSON request bodies, which carry at most one receipt's OCR text
const maxJSONSize = int64(1 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v and writes the error response on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body is too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// draftResponse carries a draft that still needs a manual amount
type draftResponse struct {
	Error   string   `json:"error"`
	Receipt *Receipt `json:"receipt"`
}

// scanStatus maps pipeline errors to HTTP status codes
func scanStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoAmountFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, imaging.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, ocr.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ocr.ErrOCRFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDraft writes a scanned or re-extracted draft
func writeDraft(w http.ResponseWriter, draft *Receipt, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, draft)
		return
	}

	code := scanStatus(err)
	if code == http.StatusUnprocessableEntity && draft != nil {
		writeJSON(w, code, draftResponse{
			Error:   "No amount could be found on the receipt. Please enter it manually.",
			Receipt: draft,
		})
		return
	}

	message := err.Error()
	switch code {
	case http.StatusConflict:
		message = "A receipt is already being scanned. Please try again in a moment."
	case http.StatusBadRequest:
		message = "The file could not be read as an image."
	}
	writeJSONError(w, code, message)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// handleOCRStatus reports whether a scan is running
func (s *Server) handleOCRStatus(w http.ResponseWriter, r *http.Request) {
	state := ocr.Idle
	if s.ocrState != nil {
		state = s.ocrState()
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// detectContentType prefers the declared type, then the file extension, then the content
func detectContentType(declared, filename string, data []byte) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return http.DetectContentType(data)
}

// handleScanReceipt runs an uploaded receipt through the pipeline and returns a draft
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename, data)

	draft, err := s.service.ScanReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil && !errors.Is(err, ErrNoAmountFound) {
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
	}
	writeDraft(w, draft, err)
}

// handleReextract re-runs extraction on reviewed OCR text
func (s *Server) handleReextract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Receipt *Receipt `json:"receipt"`
		Text    string   `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	draft, err := s.service.Reextract(req.Receipt, req.Text)
	writeDraft(w, draft, err)
}

// handleCreateReceipt saves a reviewed receipt
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt Receipt
	if !decodeJSON(w, r, &receipt) {
		return
	}

	saved, err := s.service.CreateReceipt(&receipt)
	if err != nil {
		slog.Error("Error creating receipt", "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidReceipt) {
			code = http.StatusBadRequest
		}
		writeJSONError(w, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt", "id", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetReceiptFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Receipt ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteReceipt(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			corsError(w, "Receipt not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting receipt", "id", id, "error", err)
		corsError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
