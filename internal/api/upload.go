package api //nolint:revive // package name is intentional

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/document"
	"github.com/blueberrycongee/agentgate/internal/observability"
	llmerrors "github.com/blueberrycongee/agentgate/pkg/errors"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

const (
	// DefaultMaxUploadBytes caps multipart document uploads.
	DefaultMaxUploadBytes int64 = 50 * 1024 * 1024

	// uploadMemory is held in memory before parts spill to temp files.
	uploadMemory = 8 << 20

	requestField = "request"
)

// fileFields are the accepted names of the document part, most specific
// last.
var fileFields = []string{"file", "pdf_file", "docx_file"}

// WithExtractor sets the document extractor used for uploads.
func WithExtractor(e *document.Extractor) HandlerOption {
	return func(h *Handler) {
		if e != nil {
			h.extractor = e
		}
	}
}

// WithMaxUploadSize caps multipart uploads.
func WithMaxUploadSize(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadSize = n
		}
	}
}

// ExecutePDF handles POST /agent/execute-pdf.
func (h *Handler) ExecutePDF(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.uploadRequest(document.FormatPDF), h.svc.ExecuteDocument)
}

// ExecuteDOCX handles POST /agent/execute-docx.
func (h *Handler) ExecuteDOCX(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.uploadRequest(document.FormatDOCX), h.svc.ExecuteDocument)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// uploadRequest builds an execution request from a multipart form. The
// execution fields come either as JSON in the "request" part or as plain
// form fields; the document text replaces the message. want restricts the
// format, "" accepts both.
func (h *Handler) uploadRequest(want document.Format) func(*http.Request) (*types.ExecutionRequest, error) {
	return func(r *http.Request) (*types.ExecutionRequest, error) {
		if !isMultipart(r) {
			return nil, llmerrors.NewInvalidRequestError("", "", "expected multipart/form-data with a document file")
		}

		r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadSize)
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, llmerrors.NewInvalidRequestError("", "", "upload too large")
			}
			return nil, llmerrors.NewInvalidRequestError("", "", "invalid multipart form: "+err.Error())
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		req, err := formRequest(r.MultipartForm)
		if err != nil {
			return nil, err
		}

		header := fileHeader(r.MultipartForm)
		if header == nil {
			return nil, llmerrors.NewInvalidRequestError("", "", "a document file is required")
		}
		format, ok := document.FormatOf(header.Filename)
		switch {
		case want != "" && format != want:
			ext := strings.ToLower(string(want))
			return nil, llmerrors.NewValidationError("", "", fmt.Sprintf("File must be a %s (.%s extension required)", want, ext))
		case !ok:
			return nil, llmerrors.NewValidationError("", "", "File must be a PDF or DOCX document")
		case !document.ContentTypeAllowed(format, header.Header.Get("Content-Type")):
			return nil, llmerrors.NewValidationError("", "", fmt.Sprintf("Invalid file type. Expected %s document.", format))
		}

		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer func() { _ = file.Close() }()

		doc, err := h.extractor.Extract(r.Context(), header.Filename, file, header.Size)
		if err != nil {
			return nil, err
		}

		req.Message = doc.Text
		req.Source = &types.DocumentSource{Format: string(doc.Format), Name: document.SafeName(header.Filename)}
		req.ClientID = observability.ClientIDFromContext(r.Context())
		req.ClientIP = h.proxies.ClientIP(r)
		return req, nil
	}
}

func fileHeader(form *multipart.Form) *multipart.FileHeader {
	for _, name := range fileFields {
		if files := form.File[name]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

func formRequest(form *multipart.Form) (*types.ExecutionRequest, error) {
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := &types.ExecutionRequest{}
	if raw := value(requestField); raw != "" {
		if err := cache.UnmarshalNumbers([]byte(raw), req); err != nil {
			return nil, llmerrors.NewInvalidRequestError("", "", "invalid JSON in request field: "+err.Error())
		}
		return req, nil
	}

	req.AgentName = value("agent_name")
	req.Provider = value("provider")
	req.Model = value("model")
	req.UserID = value("user_id")
	if v := value("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, llmerrors.NewInvalidRequestError("", "", "chunk_size must be an integer")
		}
		req.ChunkSize = n
	}
	if v := value("use_cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, llmerrors.NewInvalidRequestError("", "", "use_cache must be a boolean")
		}
		req.UseCache = &b
	}
	if v := value("parameters"); v != "" {
		if err := cache.UnmarshalNumbers([]byte(v), &req.Parameters); err != nil {
			return nil, llmerrors.NewInvalidRequestError("", "", "parameters must be a JSON object")
		}
	}
	return req, nil
}
