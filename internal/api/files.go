package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebrowser/internal/fileops"
	"github.com/fruitsalade/filebrowser/internal/integrity"
	"github.com/fruitsalade/filebrowser/internal/logging"
	"github.com/fruitsalade/filebrowser/internal/metrics"
	"github.com/fruitsalade/filebrowser/pkg/protocol"
)

const (
	// multipartMemory is how much of a multipart upload is buffered in memory
	// before spilling to temporary files.
	multipartMemory = 8 << 20
	// multipartOverhead bounds the form framing allowed on top of the file.
	multipartOverhead = 1 << 20
)

// ─── Browse ─────────────────────────────────────────────────────────────────

// handleBrowse lists a directory, or serves a file inline.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	p, err := s.resolve(r, r.PathValue("path"))
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	entry, err := s.engine.Stat(p)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	if !entry.IsDir() {
		s.serveInline(w, r, p.Path())
		return
	}

	entries, err := s.engine.List(p)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	files := make([]protocol.FileEntry, 0, len(entries))
	for _, e := range entries {
		files = append(files, toProtocolEntry(e))
	}
	resp := protocol.ListingResponse{Path: p.Rel(), Files: files}
	if !p.IsRoot() {
		resp.ParentPath = p.Parent().Rel()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) serveInline(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.sendCoreError(w, r, &fileops.OpError{Op: "open", Path: filepath.Base(path), Err: fileops.ErrNotFound})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.sendError(w, http.StatusBadRequest, "not a file")
		return
	}
	w.Header().Set("Content-Type", contentType(path))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// contentType sniffs the file's leading bytes, falling back to its extension.
func contentType(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil && mt.String() != "application/octet-stream" {
		return mt.String()
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func toProtocolEntry(e fileops.FileEntry) protocol.FileEntry {
	return protocol.FileEntry{
		Name:         e.Name,
		Size:         e.HumanSize(),
		SizeBytes:    e.Size,
		CreatedTime:  e.Created.Format(protocol.TimeLayout),
		ModifiedTime: e.Modified.Format(protocol.TimeLayout),
		FileIcon:     e.Icon,
		FileLink:     e.Link,
		FileType:     string(e.Type),
	}
}

// ─── Download ───────────────────────────────────────────────────────────────

// handleDownload streams a file as an attachment. The digest taken before
// sending goes out in X-File-Hash; once the body is written the file on
// disk is hashed again and the outcome is sent in the X-File-Integrity
// trailer. A mismatch is logged and counted but never fails the response.
// Content-Length is left unset so HTTP/1.1 responses go out chunked, the
// only framing that carries trailers.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, err := s.resolve(r, r.PathValue("path"))
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	f, err := os.Open(p.Path())
	if err != nil {
		s.sendCoreError(w, r, &fileops.OpError{Op: "download", Path: p.Rel(), Err: fileops.ErrNotFound})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.sendCoreError(w, r, &fileops.OpError{Op: "download", Path: p.Rel(), Err: fileops.ErrIO})
		return
	}
	if info.IsDir() {
		s.sendError(w, http.StatusBadRequest, "not a file")
		return
	}

	sent, err := s.verifier.HashFile(p.Path())
	if err != nil {
		s.sendCoreError(w, r, &fileops.OpError{Op: "download", Path: p.Rel(), Err: errors.Join(fileops.ErrIO, err)})
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentType(p.Path()))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()}))
	h.Set(protocol.HeaderFileHash, string(sent))
	h.Set(protocol.HeaderHashAlgorithm, string(s.verifier.Algorithm()))
	h.Set("Trailer", protocol.TrailerIntegrity)
	w.WriteHeader(http.StatusOK)

	hw := s.verifier.NewWriter()
	n, copyErr := io.Copy(io.MultiWriter(w, hw), f)
	metrics.RecordDownload(n)

	log := logging.WithContext(r.Context()).With(zap.String("path", p.Rel()))
	if copyErr != nil {
		log.Warn("download transfer error", zap.Error(copyErr))
		return
	}

	result, err := s.verifier.Check(p.Path(), sent)
	if err != nil {
		log.Warn("integrity re-check failed", zap.Error(err))
		result = integrity.Result{Path: p.Rel(), Expected: sent}
	}
	match := result.Match && hw.Digest() == sent
	metrics.RecordIntegrityCheck(match)

	if match {
		h.Set(protocol.TrailerIntegrity, protocol.IntegrityOK)
		log.Info("file downloaded", zap.Int64("bytes", n))
		return
	}
	h.Set(protocol.TrailerIntegrity, protocol.IntegrityMismatch)
	result.Path = p.Rel()
	log.Warn(result.Warning(),
		zap.String("sent", string(sent)),
		zap.String("streamed", string(hw.Digest())),
		zap.String("on_disk", string(result.Actual)))
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateFolderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	dir, err := s.resolve(r, req.FolderPath)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	created, err := s.engine.CreateFolder(dir, req.FolderName)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, protocol.CreateFolderResponse{
		Success: true,
		Name:    created.Base(),
		Path:    created.Rel(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadSize + multipartOverhead
	if r.ContentLength > limit {
		s.sendError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("upload_file_name")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "no file")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.sendError(w, http.StatusBadRequest, "no selected file")
		return
	}
	if header.Size > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	dir, err := s.resolve(r, r.FormValue("folder_path"))
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	res, err := s.engine.Upload(dir, header.Filename, file)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, protocol.UploadResponse{
		Success: true,
		Name:    res.Name,
		Path:    res.Path.Rel(),
		Size:    res.Size,
		Hash:    string(res.Digest),
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req protocol.RenameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	dir, err := s.resolve(r, req.PathToFile)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	renamed, err := s.engine.Rename(dir, req.OldFileName, req.NewFileName, req.FileSuffix)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.RenameResponse{
		Success:     true,
		RenamedFile: renamed.Base(),
		Path:        renamed.Rel(),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	root, err := s.userRoot(r)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	target, err := s.resolver.ResolveEntry(root, req.PathToDeleteFile, req.DeleteFile)
	if err != nil {
		s.sendCoreError(w, r, err)
		return
	}
	if err := s.engine.Delete(target); err != nil {
		s.sendCoreError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.SuccessResponse{Success: true})
}
