// Package protocol defines the API request/response types.
package protocol

import "time"

// TimeLayout is the timestamp format used in listings (day-month-year).
const TimeLayout = "02-01-2006 15:04:05"

// Download headers.
const (
	// HeaderFileHash carries the digest of the file as it was sent.
	HeaderFileHash = "X-File-Hash"
	// HeaderHashAlgorithm names the digest function used for HeaderFileHash.
	HeaderHashAlgorithm = "X-File-Hash-Algorithm"
	// TrailerIntegrity reports the post-transfer re-check: "ok" or "mismatch".
	TrailerIntegrity = "X-File-Integrity"
)

// Integrity trailer values.
const (
	IntegrityOK       = "ok"
	IntegrityMismatch = "mismatch"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is returned by mutations with nothing else to report.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// RegisterRequest is the body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// RegisterResponse reports the new account. Provisioned is false when the
// account exists but its storage could not be created.
type RegisterResponse struct {
	Username    string `json:"username"`
	Provisioned bool   `json:"provisioned"`
}

// LoginRequest is the body for POST /api/v1/auth/token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned on successful login.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name         string `json:"name"`
	Size         string `json:"size"`
	SizeBytes    int64  `json:"size_bytes"`
	CreatedTime  string `json:"created_time"`
	ModifiedTime string `json:"modified_time"`
	FileIcon     string `json:"file_icon"`
	FileLink     string `json:"file_link"`
	FileType     string `json:"file_type"` // "file" or "folder"
}

// ListingResponse is returned by GET /api/v1/files/{path} for a directory.
type ListingResponse struct {
	Path       string      `json:"path"`
	ParentPath string      `json:"parent_path"`
	Files      []FileEntry `json:"files"`
}

// CreateFolderRequest is the body for POST /api/v1/folders.
type CreateFolderRequest struct {
	FolderName string `json:"folder_name"`
	FolderPath string `json:"folder_path"`
}

// CreateFolderResponse reports the created folder.
type CreateFolderResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Path    string `json:"path"`
}

// UploadResponse reports a stored upload.
type UploadResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Hash    string `json:"hash"`
}

// RenameRequest is the body for POST /api/v1/rename.
type RenameRequest struct {
	OldFileName string `json:"old_file_name"`
	FileSuffix  string `json:"file_suffix"`
	NewFileName string `json:"new_file_name"`
	PathToFile  string `json:"path_to_file"`
}

// RenameResponse reports the final name after sanitization.
type RenameResponse struct {
	Success     bool   `json:"success"`
	RenamedFile string `json:"renamed_file"`
	Path        string `json:"path"`
}

// DeleteRequest is the body for POST /api/v1/delete.
type DeleteRequest struct {
	DeleteFile       string `json:"delete_file"`
	PathToDeleteFile string `json:"path_to_delete_file"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
